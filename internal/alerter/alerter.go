package alerter

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mattmezza/callwatch/internal/api"
	"github.com/mattmezza/callwatch/internal/config"
	"github.com/mattmezza/callwatch/internal/filter"
	"github.com/mattmezza/callwatch/internal/notifier"
	"github.com/mattmezza/callwatch/internal/reconcile"
	"github.com/mattmezza/callwatch/internal/sound"
	"github.com/mattmezza/callwatch/internal/state"
	"github.com/mattmezza/callwatch/internal/states"
)

const (
	NormalTitle = "Callwatch - Fire Call Monitor"
	BlinkTitle  = "🔥 NEW CALL! Callwatch"
	ActiveTitle = "🔥 ACTIVE CALL - Callwatch - Fire Call Monitor"
)

// Display is the keyed card board plus the visual alert surfaces.
type Display interface {
	Order() []string
	Apply(plan reconcile.Plan)
	Acknowledge(id string) bool
	Remove(id string) bool
	SetBorder(on bool)
	SetTitle(title string)
}

// Dispatcher delivers notifications, suppressing repeats of a tag.
type Dispatcher interface {
	Notify(data notifier.NotificationData) bool
	Release(tag string)
}

// Observer receives alert activity, for metrics.
type Observer interface {
	AlertFired(callID string)
	ChannelChanged(channel string, active bool)
	CountsChanged(visible, unack int)
}

type nopDispatcher struct{}

func (nopDispatcher) Notify(notifier.NotificationData) bool { return true }
func (nopDispatcher) Release(string)                        {}

type nopObserver struct{}

func (nopObserver) AlertFired(string)           {}
func (nopObserver) ChannelChanged(string, bool) {}
func (nopObserver) CountsChanged(int, int)      {}

// Deps are the collaborators of an Engine. App, Filter and Display are required.
type Deps struct {
	App        *state.App
	Filter     *filter.StateFilter
	Display    Display
	Dispatcher Dispatcher
	Player     sound.Player
	Observer   Observer
	Location   *time.Location
	Now        func() time.Time
}

// Outcome summarises one applied poll result.
type Outcome struct {
	Seq     uint64
	Stale   bool // an older response than the one on the board; only merged
	Total   int
	Visible int
	Unack   int
	New     []api.Call // visible calls observed for the first time
	Alerted []api.Call // new calls that fired the alert bundle
	Plan    reconcile.Plan
}

// Engine reconciles fetched calls against the known set and drives the alert
// channels. It is safe for concurrent use.
type Engine struct {
	cfg        config.AlertConfig
	app        *state.App
	filter     *filter.StateFilter
	display    Display
	dispatcher Dispatcher
	player     sound.Player
	observer   Observer
	loc        *time.Location
	now        func() time.Time

	mu          sync.Mutex
	channels    map[Channel]*ChannelState
	border      timerSlot
	title       timerSlot
	burst       bool            // a new-call title burst owns the title slot
	visible     bool            // blinking is suppressed while false
	unack       map[string]bool // visible, unacknowledged ids of the board
	acked       map[string]bool // acknowledged locally, maybe not yet by the backend
	outstanding map[string]bool // notified and not yet acknowledged
	lastCalls   []api.Call
	soundMu     sync.Mutex
}

func NewEngine(cfg config.AlertConfig, deps Deps) (*Engine, error) {
	if deps.App == nil || deps.Filter == nil || deps.Display == nil {
		return nil, fmt.Errorf("alerter: app state, filter and display are required")
	}
	e := &Engine{
		cfg:         cfg,
		app:         deps.App,
		filter:      deps.Filter,
		display:     deps.Display,
		dispatcher:  deps.Dispatcher,
		player:      deps.Player,
		observer:    deps.Observer,
		loc:         deps.Location,
		now:         deps.Now,
		channels:    make(map[Channel]*ChannelState, len(Channels)),
		visible:     true,
		unack:       make(map[string]bool),
		acked:       make(map[string]bool),
		outstanding: make(map[string]bool),
	}
	if e.dispatcher == nil {
		e.dispatcher = nopDispatcher{}
	}
	if e.player == nil {
		e.player = sound.Silent{}
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.cfg.BorderDuration <= 0 {
		e.cfg.BorderDuration = 3 * time.Second
	}
	if e.cfg.TitleBlinkInterval <= 0 {
		e.cfg.TitleBlinkInterval = 500 * time.Millisecond
	}
	if e.cfg.ActiveBlinkInterval <= 0 {
		e.cfg.ActiveBlinkInterval = time.Second
	}
	if e.cfg.TitleBlinkCycles <= 0 {
		e.cfg.TitleBlinkCycles = 3
	}
	for _, ch := range Channels {
		e.channels[ch] = &ChannelState{}
	}
	e.border.guard = &e.mu
	e.title.guard = &e.mu
	e.display.SetTitle(NormalTitle)
	return e, nil
}

// Apply reconciles one poll result. seq orders responses: a result older than
// the last applied one still feeds the known set and may fire alerts for calls
// never seen before, but does not rewind the board. seq 0 always applies.
func (e *Engine) Apply(ctx context.Context, seq uint64, calls []api.Call) Outcome {
	e.mu.Lock()
	out := e.applyLocked(seq, calls)
	e.mu.Unlock()

	e.fire(ctx, out.Alerted)
	return out
}

func (e *Engine) applyLocked(seq uint64, calls []api.Call) Outcome {
	now := e.now()
	out := Outcome{Seq: seq, Total: len(calls)}
	out.Stale = seq != 0 && seq < e.app.LastApplied

	calls = withStates(calls)
	if !out.Stale {
		e.pruneAcked(calls)
	}

	visible := make([]api.Call, 0, len(calls))
	for _, c := range calls {
		if !e.filter.Allows(c.State) {
			continue
		}
		if e.acked[c.ID] {
			c.Acknowledged = true
		}
		visible = append(visible, c)
	}
	out.Visible = len(visible)

	seen := make(map[string]bool, len(visible))
	for _, c := range visible {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if e.app.Known.Has(c.ID) {
			continue
		}
		out.New = append(out.New, c)
		if c.Acknowledged || len(e.app.Alerted.Merge(c.ID)) == 0 {
			continue
		}
		out.Alerted = append(out.Alerted, c)
		e.observer.AlertFired(c.ID)
		log.Printf("Alerter: NEW CALL %s: %s - %s (%s)", c.ID, c.Agency, c.Location, c.State)
		e.startVisualAlerts(now)
	}

	if !out.Stale {
		out.Plan = reconcile.Compute(e.display.Order(), visible)
		e.display.Apply(out.Plan)
		if seq != 0 {
			e.app.LastApplied = seq
		}
		e.lastCalls = calls
	}

	for _, c := range calls {
		e.app.Known.Merge(c.ID)
	}

	if !out.Stale {
		unack := make(map[string]bool, len(visible))
		for _, c := range visible {
			if !c.Acknowledged && c.ID != "" {
				unack[c.ID] = true
			}
		}
		e.unack = unack
		e.observer.CountsChanged(len(visible), len(unack))
		e.updateAggregate(now)
	}
	out.Unack = len(e.unack)
	return out
}

// SetFilter swaps the state filter and re-applies the last fetched calls
// against it.
func (e *Engine) SetFilter(ctx context.Context, f *filter.StateFilter) Outcome {
	e.mu.Lock()
	e.filter = f
	out := e.applyLocked(e.app.LastApplied, e.lastCalls)
	e.mu.Unlock()

	e.fire(ctx, out.Alerted)
	return out
}

// Filter returns a copy of the current filter.
func (e *Engine) Filter() *filter.StateFilter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filter.Clone()
}

// Acknowledge marks id acknowledged locally and reports whether it was a
// visible unacknowledged call. Acknowledging the last one silences the title.
func (e *Engine) Acknowledge(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.acked[id] = true
	e.display.Acknowledge(id)
	if e.outstanding[id] {
		delete(e.outstanding, id)
		e.setChannel(ChannelNotification, len(e.outstanding) > 0, now)
	}
	was := e.unack[id]
	delete(e.unack, id)
	e.updateAggregate(now)
	return was
}

// Dismiss drops every trace of id, so a later fetch returning it treats it as new.
func (e *Engine) Dismiss(id string) bool {
	e.mu.Lock()
	now := e.now()
	known := e.app.Known.Has(id)
	e.app.Forget(id)
	removed := e.display.Remove(id)
	delete(e.acked, id)
	delete(e.unack, id)
	if e.outstanding[id] {
		delete(e.outstanding, id)
		e.setChannel(ChannelNotification, len(e.outstanding) > 0, now)
	}
	var kept []api.Call
	for _, c := range e.lastCalls {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	e.lastCalls = kept
	e.updateAggregate(now)
	e.mu.Unlock()

	e.dispatcher.Release(id)
	return known || removed
}

// SetVisible starts or stops the blinking surfaces. Sound and notifications
// are unaffected.
func (e *Engine) SetVisible(visible bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.visible == visible {
		return
	}
	e.visible = visible
	now := e.now()
	if !visible {
		e.border.halt()
		e.title.halt()
		e.burst = false
		e.display.SetBorder(false)
		e.setChannel(ChannelBorder, false, now)
		e.settleTitle()
		return
	}
	if e.channels[ChannelTitle].IsActive {
		e.startActiveBlink()
	}
}

// ChannelStates returns a copy of every channel state.
func (e *Engine) ChannelStates() map[Channel]ChannelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Channel]ChannelState, len(e.channels))
	for ch, cs := range e.channels {
		out[ch] = *cs
	}
	return out
}

// Knows reports whether id has been fetched and not dismissed since.
func (e *Engine) Knows(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.app.Known.Has(id)
}

// UnackCount returns the visible unacknowledged count.
func (e *Engine) UnackCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.unack)
}

// Close stops all timers and restores the normal title.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.border.halt()
	e.title.halt()
	e.burst = false
	e.display.SetBorder(false)
	e.display.SetTitle(NormalTitle)
}

// fire plays the tone and sends the notification for each alerted call.
// It runs without the engine lock held.
func (e *Engine) fire(ctx context.Context, calls []api.Call) {
	for _, c := range calls {
		e.playTone(ctx)
		e.notify(c)
	}
}

func (e *Engine) playTone(ctx context.Context) {
	e.soundMu.Lock()
	defer e.soundMu.Unlock()

	e.mu.Lock()
	e.setChannel(ChannelSound, true, e.now())
	e.mu.Unlock()

	if err := e.player.Play(ctx); err != nil {
		log.Printf("Alerter: failed to play alert sound: %v", err)
	}

	e.mu.Lock()
	e.setChannel(ChannelSound, false, e.now())
	e.mu.Unlock()
}

func (e *Engine) notify(c api.Call) {
	data := notifier.NotificationData{
		Tag:        c.ID,
		CallID:     c.ID,
		Agency:     c.Agency,
		Location:   c.Location,
		State:      c.State,
		Timestamp:  api.FormatTimestamp(c.Timestamp, e.loc),
		Transcript: c.Transcript,
		AudioURL:   c.AudioURL,
		Time:       e.now(),
	}
	if !e.dispatcher.Notify(data) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acked[c.ID] || !e.app.Known.Has(c.ID) {
		return
	}
	e.outstanding[c.ID] = true
	e.setChannel(ChannelNotification, true, e.now())
}

func (e *Engine) startVisualAlerts(now time.Time) {
	if !e.visible {
		return
	}

	e.display.SetBorder(true)
	e.setChannel(ChannelBorder, true, now)
	e.border.start(e.cfg.BorderDuration, func(int) bool {
		e.display.SetBorder(false)
		e.setChannel(ChannelBorder, false, e.now())
		return false
	})

	e.burst = true
	e.display.SetTitle(BlinkTitle)
	toggles := 2 * e.cfg.TitleBlinkCycles
	e.title.start(e.cfg.TitleBlinkInterval, func(n int) bool {
		if n >= toggles {
			e.burst = false
			e.settleTitle()
			return false
		}
		if n%2 == 1 {
			e.display.SetTitle(NormalTitle)
		} else {
			e.display.SetTitle(BlinkTitle)
		}
		return true
	})
}

// updateAggregate drives the title channel from the unacknowledged count. It
// only acts when the count crosses zero. Going back to zero also cuts a
// running new-call burst short.
func (e *Engine) updateAggregate(now time.Time) {
	e.app.UnackCount = len(e.unack)
	active := len(e.unack) > 0
	if !e.setChannel(ChannelTitle, active, now) {
		return
	}
	if active && e.burst {
		return
	}
	e.burst = false
	e.settleTitle()
}

// settleTitle leaves the title in the state the aggregate channel asks for.
func (e *Engine) settleTitle() {
	if !e.channels[ChannelTitle].IsActive {
		e.title.halt()
		e.display.SetTitle(NormalTitle)
		return
	}
	if !e.visible {
		e.title.halt()
		e.display.SetTitle(ActiveTitle)
		return
	}
	e.startActiveBlink()
}

func (e *Engine) startActiveBlink() {
	e.display.SetTitle(ActiveTitle)
	e.title.start(e.cfg.ActiveBlinkInterval, func(n int) bool {
		if n%2 == 1 {
			e.display.SetTitle(NormalTitle)
		} else {
			e.display.SetTitle(ActiveTitle)
		}
		return true
	})
}

func (e *Engine) setChannel(ch Channel, active bool, now time.Time) bool {
	if !e.channels[ch].set(active, now) {
		return false
	}
	e.observer.ChannelChanged(string(ch), active)
	return true
}

// pruneAcked forgets local acknowledgements the backend has caught up with or
// that belong to calls no longer served.
func (e *Engine) pruneAcked(calls []api.Call) {
	if len(e.acked) == 0 {
		return
	}
	served := make(map[string]bool, len(calls))
	for _, c := range calls {
		if !c.Acknowledged {
			served[c.ID] = true
		}
	}
	for id := range e.acked {
		if !served[id] {
			delete(e.acked, id)
		}
	}
}

// withStates fills in a missing state from the "City, ST" location.
func withStates(calls []api.Call) []api.Call {
	out := make([]api.Call, len(calls))
	for i, c := range calls {
		if c.State == "" {
			c.State = states.FromLocation(c.Location)
		} else if canonical, err := states.Normalize(c.State); err == nil {
			c.State = canonical
		}
		out[i] = c
	}
	return out
}
