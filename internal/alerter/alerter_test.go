package alerter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattmezza/callwatch/internal/api"
	"github.com/mattmezza/callwatch/internal/config"
	"github.com/mattmezza/callwatch/internal/filter"
	"github.com/mattmezza/callwatch/internal/notifier"
	"github.com/mattmezza/callwatch/internal/reconcile"
	"github.com/mattmezza/callwatch/internal/state"
)

type fakeDisplay struct {
	mu     sync.Mutex
	order  []string
	calls  map[string]api.Call
	border bool
	title  string
	titles []string
	plans  []reconcile.Plan
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{calls: make(map[string]api.Call)}
}

func (d *fakeDisplay) Order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

func (d *fakeDisplay) Apply(plan reconcile.Plan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range plan.Ops {
		if op.Kind == reconcile.Remove {
			delete(d.calls, op.ID)
			continue
		}
		d.calls[op.ID] = op.Call
	}
	d.order = append([]string(nil), plan.Order...)
	d.plans = append(d.plans, plan)
}

func (d *fakeDisplay) Acknowledge(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.calls[id]
	if !ok {
		return false
	}
	c.Acknowledged = true
	d.calls[id] = c
	return true
}

func (d *fakeDisplay) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.calls[id]; !ok {
		return false
	}
	delete(d.calls, id)
	for i, o := range d.order {
		if o == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

func (d *fakeDisplay) SetBorder(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.border = on
}

func (d *fakeDisplay) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.title = title
	d.titles = append(d.titles, title)
}

func (d *fakeDisplay) Border() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.border
}

func (d *fakeDisplay) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

type fakeDispatcher struct {
	mu       sync.Mutex
	sent     []notifier.NotificationData
	released []string
}

func (f *fakeDispatcher) Notify(data notifier.NotificationData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return true
}

func (f *fakeDispatcher) Release(tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, tag)
}

type countingPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *countingPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

type transition struct {
	channel string
	active  bool
}

type recordingObserver struct {
	mu          sync.Mutex
	fired       []string
	transitions []transition
}

func (o *recordingObserver) AlertFired(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fired = append(o.fired, id)
}

func (o *recordingObserver) ChannelChanged(channel string, active bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{channel, active})
}

func (o *recordingObserver) CountsChanged(int, int) {}

func (o *recordingObserver) count(channel string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, t := range o.transitions {
		if t.channel == channel {
			n++
		}
	}
	return n
}

type harness struct {
	engine     *Engine
	app        *state.App
	display    *fakeDisplay
	dispatcher *fakeDispatcher
	player     *countingPlayer
	observer   *recordingObserver
}

// slowAlerts keeps every timer from firing during a test.
func slowAlerts() config.AlertConfig {
	return config.AlertConfig{
		BorderDuration:      time.Hour,
		TitleBlinkCycles:    3,
		TitleBlinkInterval:  time.Hour,
		ActiveBlinkInterval: time.Hour,
	}
}

func newHarness(t *testing.T, cfg config.AlertConfig, selected ...string) *harness {
	t.Helper()
	f, err := filter.New(4, selected)
	require.NoError(t, err)

	h := &harness{
		app:        state.NewApp(),
		display:    newFakeDisplay(),
		dispatcher: &fakeDispatcher{},
		player:     &countingPlayer{},
		observer:   &recordingObserver{},
	}
	h.engine, err = NewEngine(cfg, Deps{
		App:        h.app,
		Filter:     f,
		Display:    h.display,
		Dispatcher: h.dispatcher,
		Player:     h.player,
		Observer:   h.observer,
		Location:   time.UTC,
	})
	require.NoError(t, err)
	t.Cleanup(h.engine.Close)
	return h
}

func call(id, st string, acked bool) api.Call {
	return api.Call{ID: id, Agency: "Engine 7", Location: "Somewhere", State: st, Timestamp: "2025-06-01T12:00:00Z", Acknowledged: acked}
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(slowAlerts(), Deps{})
	assert.Error(t, err)
}

func TestApplyFiresOncePerNewCall(t *testing.T) {
	h := newHarness(t, slowAlerts(), "Texas", "New York")
	ctx := context.Background()

	out := h.engine.Apply(ctx, 1, []api.Call{call("a1", "Texas", false)})
	require.Len(t, out.Alerted, 1)
	assert.Equal(t, 1, out.Plan.Count(reconcile.Insert))
	assert.Equal(t, 1, out.Unack)
	assert.Equal(t, []string{"a1"}, h.display.Order())
	assert.True(t, h.display.Border())
	assert.Equal(t, BlinkTitle, h.display.Title())

	out = h.engine.Apply(ctx, 2, []api.Call{call("a1", "Texas", false)})
	assert.Empty(t, out.Alerted)
	assert.Empty(t, out.New)
	assert.Equal(t, 0, out.Plan.Count(reconcile.Insert))
	assert.Equal(t, 1, out.Plan.Count(reconcile.Update))
	assert.Equal(t, []string{"a1"}, h.display.Order())

	assert.Len(t, h.dispatcher.sent, 1)
	assert.Equal(t, "a1", h.dispatcher.sent[0].Tag)
	assert.Equal(t, "Jun 1, 2025 12:00:00 PM UTC", h.dispatcher.sent[0].Timestamp)
	assert.Equal(t, 1, h.player.plays)
	assert.Equal(t, []string{"a1"}, h.observer.fired)
}

func TestApplyBatchFiresEachNewCall(t *testing.T) {
	h := newHarness(t, slowAlerts())

	out := h.engine.Apply(context.Background(), 1, []api.Call{
		call("a1", "Texas", false),
		call("b2", "Ohio", false),
		call("b2", "Ohio", false),
		call("c3", "Utah", true),
	})
	assert.Len(t, out.New, 3)
	assert.Len(t, out.Alerted, 2)
	assert.Equal(t, 2, h.player.plays)
	assert.Len(t, h.dispatcher.sent, 2)
	assert.Equal(t, []string{"a1", "b2", "c3"}, h.display.Order())
}

func TestApplyExcludesFilteredStates(t *testing.T) {
	h := newHarness(t, slowAlerts(), "New York")

	out := h.engine.Apply(context.Background(), 1, []api.Call{call("t1", "Texas", false)})
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, 0, out.Visible)
	assert.Equal(t, 0, out.Unack)
	assert.Empty(t, out.Alerted)
	assert.Empty(t, h.display.Order())
	assert.Equal(t, NormalTitle, h.display.Title())
	assert.True(t, h.app.Known.Has("t1"))
}

func TestApplyDerivesStateFromLocation(t *testing.T) {
	h := newHarness(t, slowAlerts(), "Texas")

	c := call("a1", "", false)
	c.Location = "Austin, TX"
	out := h.engine.Apply(context.Background(), 1, []api.Call{c})
	assert.Equal(t, 1, out.Visible)
	require.Len(t, out.Alerted, 1)
	assert.Equal(t, "Texas", out.Alerted[0].State)
}

func TestDismissMakesCallNewAgain(t *testing.T) {
	h := newHarness(t, slowAlerts())
	ctx := context.Background()

	h.engine.Apply(ctx, 1, []api.Call{call("a1", "Texas", false), call("b2", "Texas", true)})
	assert.True(t, h.engine.Dismiss("a1"))
	assert.False(t, h.app.Known.Has("a1"))
	assert.False(t, h.app.Alerted.Has("a1"))
	assert.Equal(t, []string{"b2"}, h.display.Order())
	assert.Equal(t, []string{"a1"}, h.dispatcher.released)
	assert.Equal(t, 0, h.engine.UnackCount())

	out := h.engine.Apply(ctx, 2, []api.Call{call("a1", "Texas", false), call("b2", "Texas", true)})
	require.Len(t, out.Alerted, 1)
	assert.Equal(t, "a1", out.Alerted[0].ID)
	assert.Equal(t, 2, h.player.plays)

	assert.False(t, h.engine.Dismiss("zz"))
}

func TestStaleResponseDoesNotRewindBoard(t *testing.T) {
	h := newHarness(t, slowAlerts())
	ctx := context.Background()

	h.engine.Apply(ctx, 2, []api.Call{call("a1", "Texas", false), call("b2", "Texas", false)})

	out := h.engine.Apply(ctx, 1, []api.Call{call("a1", "Texas", false)})
	assert.True(t, out.Stale)
	assert.Equal(t, []string{"a1", "b2"}, h.display.Order())
	assert.Equal(t, 2, out.Unack)
	assert.Equal(t, uint64(2), h.app.LastApplied)

	out = h.engine.Apply(ctx, 1, []api.Call{call("c3", "Texas", false)})
	assert.True(t, out.Stale)
	assert.Len(t, out.Alerted, 1)
	assert.True(t, h.app.Known.Has("c3"))
	assert.Equal(t, []string{"a1", "b2"}, h.display.Order())

	out = h.engine.Apply(ctx, 3, []api.Call{call("a1", "Texas", false), call("b2", "Texas", false), call("c3", "Texas", false)})
	assert.False(t, out.Stale)
	assert.Empty(t, out.Alerted)
	assert.Equal(t, []string{"a1", "b2", "c3"}, h.display.Order())
}

func TestTitleChannelTransitionsOnlyAtZero(t *testing.T) {
	h := newHarness(t, slowAlerts())
	ctx := context.Background()

	h.engine.Apply(ctx, 1, []api.Call{call("a1", "Texas", false)})
	assert.Equal(t, 1, h.observer.count(string(ChannelTitle)))

	h.engine.Apply(ctx, 2, []api.Call{call("a1", "Texas", false), call("b2", "Texas", false)})
	h.engine.Apply(ctx, 3, []api.Call{call("a1", "Texas", false), call("b2", "Texas", false)})
	assert.Equal(t, 1, h.observer.count(string(ChannelTitle)))

	assert.True(t, h.engine.Acknowledge("a1"))
	assert.True(t, h.engine.ChannelStates()[ChannelTitle].IsActive)
	assert.Equal(t, 1, h.observer.count(string(ChannelTitle)))

	assert.True(t, h.engine.Acknowledge("b2"))
	states := h.engine.ChannelStates()
	assert.False(t, states[ChannelTitle].IsActive)
	assert.False(t, states[ChannelNotification].IsActive)
	assert.Equal(t, 2, h.observer.count(string(ChannelTitle)))
	assert.Equal(t, NormalTitle, h.display.Title())

	assert.False(t, h.engine.Acknowledge("b2"))
}

func TestLocalAcknowledgementSurvivesLaggingBackend(t *testing.T) {
	h := newHarness(t, slowAlerts())
	ctx := context.Background()

	h.engine.Apply(ctx, 1, []api.Call{call("a1", "Texas", false)})
	h.engine.Acknowledge("a1")

	out := h.engine.Apply(ctx, 2, []api.Call{call("a1", "Texas", false)})
	assert.Equal(t, 0, out.Unack)
	assert.False(t, h.engine.ChannelStates()[ChannelTitle].IsActive)

	h.engine.Apply(ctx, 3, []api.Call{call("a1", "Texas", true)})
	h.engine.mu.Lock()
	assert.Empty(t, h.engine.acked)
	h.engine.mu.Unlock()
}

func TestSetFilterReappliesLastCalls(t *testing.T) {
	h := newHarness(t, slowAlerts(), "New York")
	ctx := context.Background()

	out := h.engine.Apply(ctx, 1, []api.Call{call("t1", "Texas", false), call("n1", "New York", false)})
	assert.Equal(t, 1, out.Visible)

	wider, err := filter.New(4, []string{"Texas", "New York"})
	require.NoError(t, err)
	out = h.engine.SetFilter(ctx, wider)
	assert.Equal(t, 2, out.Visible)
	assert.Equal(t, 2, out.Unack)
	assert.Empty(t, out.Alerted)
	assert.Equal(t, []string{"t1", "n1"}, h.display.Order())
	assert.Equal(t, []string{"Texas", "New York"}, h.engine.Filter().Selected())
	assert.Equal(t, 1, h.player.plays)
}

func TestBorderFlashEnds(t *testing.T) {
	cfg := slowAlerts()
	cfg.BorderDuration = 10 * time.Millisecond
	h := newHarness(t, cfg)

	h.engine.Apply(context.Background(), 1, []api.Call{call("a1", "Texas", false)})
	assert.Eventually(t, func() bool {
		return !h.display.Border() && !h.engine.ChannelStates()[ChannelBorder].IsActive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.observer.count(string(ChannelBorder)))
}

func TestTitleBurstSettlesToActive(t *testing.T) {
	cfg := slowAlerts()
	cfg.TitleBlinkCycles = 2
	cfg.TitleBlinkInterval = 5 * time.Millisecond
	h := newHarness(t, cfg)

	h.engine.Apply(context.Background(), 1, []api.Call{call("a1", "Texas", false)})
	assert.Eventually(t, func() bool {
		h.engine.mu.Lock()
		defer h.engine.mu.Unlock()
		return !h.engine.burst
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, ActiveTitle, h.display.Title())

	h.display.mu.Lock()
	blinks := 0
	for _, title := range h.display.titles {
		if title == BlinkTitle {
			blinks++
		}
	}
	h.display.mu.Unlock()
	assert.Equal(t, 2, blinks)
}

func TestSetVisibleStopsBlinking(t *testing.T) {
	h := newHarness(t, slowAlerts())

	h.engine.Apply(context.Background(), 1, []api.Call{call("a1", "Texas", false)})
	assert.True(t, h.display.Border())

	h.engine.SetVisible(false)
	assert.False(t, h.display.Border())
	assert.Equal(t, ActiveTitle, h.display.Title())
	h.engine.mu.Lock()
	assert.False(t, h.engine.title.running())
	assert.False(t, h.engine.border.running())
	h.engine.mu.Unlock()

	h.engine.Apply(context.Background(), 2, []api.Call{call("a1", "Texas", false), call("b2", "Texas", false)})
	assert.False(t, h.display.Border())
	assert.Equal(t, 2, h.player.plays)

	h.engine.SetVisible(true)
	h.engine.mu.Lock()
	assert.True(t, h.engine.title.running())
	h.engine.mu.Unlock()
}

func TestTimerSlotReplacesPreviousTimer(t *testing.T) {
	var mu sync.Mutex
	slot := timerSlot{guard: &mu}
	var first, second int

	mu.Lock()
	slot.start(time.Millisecond, func(int) bool { first++; return true })
	slot.start(time.Millisecond, func(n int) bool { second++; return n < 3 })
	mu.Unlock()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !slot.running()
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, first)
	assert.Equal(t, 3, second)
}

func TestChannelStateTransitionsIdempotent(t *testing.T) {
	var cs ChannelState
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, cs.set(true, now))
	assert.False(t, cs.set(true, now.Add(time.Second)))
	assert.Equal(t, now, cs.LastActiveTime)
	assert.True(t, cs.set(false, now.Add(2*time.Second)))
	assert.Equal(t, now.Add(2*time.Second), cs.LastResolvedTime)
}
