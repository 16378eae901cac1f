package alerter

import (
	"sync"
	"time"
)

// Channel names one independently tracked alert output.
type Channel string

const (
	ChannelSound        Channel = "sound"
	ChannelBorder       Channel = "border"
	ChannelTitle        Channel = "title"
	ChannelNotification Channel = "notification"
)

// Channels lists every alert channel in display order.
var Channels = []Channel{ChannelSound, ChannelBorder, ChannelTitle, ChannelNotification}

// ChannelState represents the current status of one alert channel.
type ChannelState struct {
	IsActive         bool
	LastActiveTime   time.Time // When it last became active
	LastResolvedTime time.Time // When it last became resolved
}

// set moves the channel to active and reports whether that was a transition.
func (cs *ChannelState) set(active bool, now time.Time) bool {
	if cs.IsActive == active {
		return false
	}
	cs.IsActive = active
	if active {
		cs.LastActiveTime = now
	} else {
		cs.LastResolvedTime = now
	}
	return true
}

// timerSlot owns at most one running ticker. Starting a new one stops the
// previous one, so timers never stack. All methods must be called with guard
// held; tick also runs with guard held.
type timerSlot struct {
	guard sync.Locker
	gen   uint64
	stop  chan struct{}
}

// start calls tick every interval, with the tick count starting at 1, until
// tick returns false or the slot is restarted or halted.
func (s *timerSlot) start(interval time.Duration, tick func(n int) bool) {
	s.halt()
	s.gen++
	gen := s.gen
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for n := 1; ; n++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			s.guard.Lock()
			if s.gen != gen {
				s.guard.Unlock()
				return
			}
			more := tick(n)
			if !more && s.gen == gen {
				s.stop = nil
			}
			s.guard.Unlock()
			if !more {
				return
			}
		}
	}()
}

// halt stops the running ticker, if any.
func (s *timerSlot) halt() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.gen++
}

func (s *timerSlot) running() bool {
	return s.stop != nil
}
