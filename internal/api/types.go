package api

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Call is one fire dispatch record as served by /api/fire-calls.
type Call struct {
	ID            string `json:"id"`
	Agency        string `json:"agency"`
	Location      string `json:"location"`
	State         string `json:"state"`
	Timestamp     string `json:"timestamp"`
	Transcript    string `json:"transcript,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	Acknowledged  bool   `json:"acknowledged"`
	FirstDetected string `json:"first_detected,omitempty"`
}

// CallsResponse is the body of GET /api/fire-calls. Only Calls is guaranteed.
type CallsResponse struct {
	Calls       []Call `json:"calls"`
	QueueSize   *int   `json:"queue_size,omitempty"`
	CheckStart  string `json:"check_start,omitempty"`
	CheckFinish string `json:"check_finish,omitempty"`
	LastCheck   string `json:"last_check,omitempty"`
}

// Health is the body of GET /api/health.
type Health struct {
	Status      string `json:"status"`
	QueueSize   int    `json:"queue_size"`
	CheckStart  string `json:"check_start"`
	CheckFinish string `json:"check_finish"`
}

// Running reports whether the backend scanner says it is up.
func (h Health) Running() bool {
	return h.Status == "running"
}

// FilterResult is the body returned by POST /api/state-filter.
type FilterResult struct {
	Success          bool   `json:"success"`
	SelectedCount    int    `json:"selected_count"`
	QueueSize        int    `json:"queue_size"`
	RemovedFromQueue int    `json:"removed_from_queue"`
	Error            string `json:"error,omitempty"`
}

// Result is the generic {success, message} payload of acknowledge and dismiss.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

var doubleZone = regexp.MustCompile(`[+-]\d{2}:\d{2}Z$`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp parses the ISO-ish strings the backend produces, including
// the "+00:00Z" double-zone suffix. Strings without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if doubleZone.MatchString(s) {
		s = strings.TrimSuffix(s, "Z")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimestamp renders s in loc for display, degrading to "Never" for an
// empty value and "Invalid Date" for one that cannot be parsed.
func FormatTimestamp(s string, loc *time.Location) string {
	if strings.TrimSpace(s) == "" {
		return "Never"
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return "Invalid Date"
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("Jan 2, 2006 3:04:05 PM MST")
}
