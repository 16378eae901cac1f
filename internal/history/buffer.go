package history

import (
	"sync"
	"time"
)

// PollRecord is the outcome of one poll of the fire-call endpoint.
type PollRecord struct {
	Timestamp time.Time
	Err       error
	Total     int // calls returned by the backend
	Visible   int // calls passing the state filter
	Unack     int // visible calls not yet acknowledged
	New       int // visible calls seen for the first time
}

// OK reports whether the poll succeeded.
func (r PollRecord) OK() bool {
	return r.Err == nil
}

// PollHistoryBuffer keeps the newest poll outcomes.
type PollHistoryBuffer struct {
	sync.RWMutex
	records    []PollRecord
	maxRecords int
}

func NewPollHistoryBuffer(maxRecords int) *PollHistoryBuffer {
	if maxRecords < 2 {
		maxRecords = 2
	}
	return &PollHistoryBuffer{
		records:    make([]PollRecord, 0, maxRecords),
		maxRecords: maxRecords,
	}
}

// Add appends a record, evicting the oldest once the buffer is full.
func (hb *PollHistoryBuffer) Add(rec PollRecord) {
	hb.Lock()
	defer hb.Unlock()

	hb.records = append(hb.records, rec)
	if len(hb.records) > hb.maxRecords {
		hb.records = hb.records[len(hb.records)-hb.maxRecords:]
	}
}

// Latest returns the most recent record, if any.
func (hb *PollHistoryBuffer) Latest() (PollRecord, bool) {
	hb.RLock()
	defer hb.RUnlock()

	if len(hb.records) == 0 {
		return PollRecord{}, false
	}
	return hb.records[len(hb.records)-1], true
}

// LastSuccess returns the most recent successful record, if any.
func (hb *PollHistoryBuffer) LastSuccess() (PollRecord, bool) {
	hb.RLock()
	defer hb.RUnlock()

	for i := len(hb.records) - 1; i >= 0; i-- {
		if hb.records[i].OK() {
			return hb.records[i], true
		}
	}
	return PollRecord{}, false
}

// ConsecutiveFailures counts failed polls since the last success.
func (hb *PollHistoryBuffer) ConsecutiveFailures() int {
	hb.RLock()
	defer hb.RUnlock()

	n := 0
	for i := len(hb.records) - 1; i >= 0; i-- {
		if hb.records[i].OK() {
			break
		}
		n++
	}
	return n
}

// Since returns records whose Timestamp is within [now - d, now], oldest first.
func (hb *PollHistoryBuffer) Since(d time.Duration, now time.Time) []PollRecord {
	hb.RLock()
	defer hb.RUnlock()

	startTime := now.Add(-d)
	var result []PollRecord
	for i := len(hb.records) - 1; i >= 0; i-- {
		if hb.records[i].Timestamp.Before(startTime) {
			break
		}
		result = append(result, hb.records[i])
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}
