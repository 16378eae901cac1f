// Package controller owns the application state and wires the backend client,
// the reconciliation engine, the board and the local preferences together.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattmezza/callwatch/internal/alerter"
	"github.com/mattmezza/callwatch/internal/api"
	"github.com/mattmezza/callwatch/internal/board"
	"github.com/mattmezza/callwatch/internal/config"
	"github.com/mattmezza/callwatch/internal/filter"
	"github.com/mattmezza/callwatch/internal/history"
	"github.com/mattmezza/callwatch/internal/metrics"
	"github.com/mattmezza/callwatch/internal/player"
	"github.com/mattmezza/callwatch/internal/poller"
	"github.com/mattmezza/callwatch/internal/sound"
	"github.com/mattmezza/callwatch/internal/state"
)

// Backend is the subset of the fire-call REST API the controller uses.
type Backend interface {
	FetchCalls(ctx context.Context) (*api.CallsResponse, error)
	Health(ctx context.Context) (*api.Health, error)
	SetStateFilter(ctx context.Context, selected []string) (*api.FilterResult, error)
	Acknowledge(ctx context.Context, callID string) (*api.Result, error)
	Dismiss(ctx context.Context, callID string) (*api.Result, error)
}

// Prefs persists the operator's filter choices.
type Prefs interface {
	SelectedStates(ctx context.Context) ([]string, bool, error)
	SaveSelectedStates(ctx context.Context, selected []string) error
	FilterCollapsed(ctx context.Context) (bool, error)
	SaveFilterCollapsed(ctx context.Context, collapsed bool) error
}

// Options are the collaborators of a Controller. Config, Backend, Prefs and
// Board are required.
type Options struct {
	Config     *config.Config
	Backend    Backend
	Prefs      Prefs
	Board      *board.Board
	Dispatcher alerter.Dispatcher
	Sound      sound.Player
	Player     *player.Player
	Metrics    *metrics.Metrics
	Location   *time.Location
}

// Controller is the single owner of the client state.
type Controller struct {
	cfg     *config.Config
	backend Backend
	prefs   Prefs
	board   *board.Board
	engine  *alerter.Engine
	player  *player.Player
	metrics *metrics.Metrics
	history *history.PollHistoryBuffer
	app     *state.App

	seq      atomic.Uint64
	filterMu sync.Mutex

	mu           sync.Mutex
	collapsed    bool
	healthStatus string
	playCtx      context.Context
	callsTask    *poller.Task
}

func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Config == nil || opts.Backend == nil || opts.Prefs == nil || opts.Board == nil {
		return nil, fmt.Errorf("controller: config, backend, prefs and board are required")
	}
	cfg := opts.Config

	f, err := loadFilter(ctx, cfg, opts.Prefs)
	if err != nil {
		return nil, err
	}
	collapsed, err := opts.Prefs.FilterCollapsed(ctx)
	if err != nil {
		log.Printf("Warning: could not read filter_collapsed preference: %v", err)
	}

	c := &Controller{
		cfg:       cfg,
		backend:   opts.Backend,
		prefs:     opts.Prefs,
		board:     opts.Board,
		player:    opts.Player,
		metrics:   opts.Metrics,
		history:   history.NewPollHistoryBuffer(cfg.HistorySize),
		app:       state.NewApp(),
		collapsed: collapsed,
		playCtx:   context.Background(),
	}
	if c.player == nil {
		c.player = player.New(cfg.PlayerCommand)
	}
	c.player.OnExit(func(id string, _ error) {
		c.board.SetPlaying(id, false)
	})

	var observer alerter.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	c.engine, err = alerter.NewEngine(cfg.Alerts, alerter.Deps{
		App:        c.app,
		Filter:     f,
		Display:    c.board,
		Dispatcher: opts.Dispatcher,
		Player:     opts.Sound,
		Observer:   observer,
		Location:   opts.Location,
	})
	if err != nil {
		return nil, err
	}
	c.board.SetFilterPanel(f.Selected(), f.MaxSelected(), collapsed)
	return c, nil
}

// loadFilter restores the persisted selection, falling back to the configured
// default states when nothing is stored or the stored set no longer fits.
func loadFilter(ctx context.Context, cfg *config.Config, prefs Prefs) (*filter.StateFilter, error) {
	bound := cfg.Filter.Bound()
	stored, ok, err := prefs.SelectedStates(ctx)
	if err != nil {
		log.Printf("Warning: could not read selected_states preference: %v", err)
	}
	if ok {
		f, err := filter.New(bound, stored)
		if err == nil {
			return f, nil
		}
		log.Printf("Warning: ignoring stored state selection: %v", err)
	}
	f, err := filter.New(bound, cfg.Filter.DefaultStates)
	if err != nil {
		return nil, fmt.Errorf("invalid default state filter: %w", err)
	}
	return f, nil
}

func (c *Controller) Board() *board.Board                 { return c.board }
func (c *Controller) Engine() *alerter.Engine             { return c.engine }
func (c *Controller) History() *history.PollHistoryBuffer { return c.history }
func (c *Controller) State() *state.App                   { return c.app }

// Poll fetches the calls once and applies them. A failure leaves every piece
// of state untouched and only flips the status indicator to Error.
func (c *Controller) Poll(ctx context.Context) error {
	seq := c.seq.Add(1)
	start := time.Now()

	resp, err := c.backend.FetchCalls(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.PollObserved(time.Since(start), err)
		}
		c.history.Add(history.PollRecord{Timestamp: start, Err: err})
		c.board.SetStatus(board.StatusError)
		c.publishPolls(start)
		return fmt.Errorf("poll %d (%d consecutive failures): %w", seq, c.history.ConsecutiveFailures(), err)
	}

	out := c.engine.Apply(ctx, seq, resp.Calls)
	if c.metrics != nil {
		c.metrics.PollObserved(time.Since(start), nil)
	}
	c.history.Add(history.PollRecord{
		Timestamp: start,
		Total:     out.Total,
		Visible:   out.Visible,
		Unack:     out.Unack,
		New:       len(out.New),
	})
	c.publishPolls(start)
	if resp.LastCheck != "" {
		c.board.SetLastCheck(resp.LastCheck)
	}
	if c.board.Status() == board.StatusError {
		c.board.SetStatus(c.lastHealthStatus())
	}
	if out.Stale {
		log.Printf("Poller: poll %d completed after a newer one; merged %d calls only", seq, out.Total)
	} else if len(out.New) > 0 {
		log.Printf("Poller: %d calls, %d visible, %d unacknowledged, %d new", out.Total, out.Visible, out.Unack, len(out.New))
	}
	return nil
}

// pollWindow is how far back the board's poll summary looks.
const pollWindow = 5 * time.Minute

func (c *Controller) publishPolls(now time.Time) {
	ps := board.PollSummary{
		Failures: c.history.ConsecutiveFailures(),
		Window:   pollWindow,
	}
	if rec, ok := c.history.LastSuccess(); ok {
		ps.LastSuccess = rec.Timestamp
	}
	for _, rec := range c.history.Since(pollWindow, now) {
		ps.Recent++
		if !rec.OK() {
			ps.RecentFailed++
		}
	}
	c.board.SetPollSummary(ps)
}

// CheckHealth refreshes the backend status shown on the board.
func (c *Controller) CheckHealth(ctx context.Context) error {
	h, err := c.backend.Health(ctx)
	if err != nil {
		c.board.SetStatus(board.StatusError)
		return err
	}
	c.mu.Lock()
	c.healthStatus = h.Status
	c.mu.Unlock()
	c.board.SetHealth(*h)
	return nil
}

func (c *Controller) lastHealthStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthStatus == "" {
		return "Connected"
	}
	return c.healthStatus
}

// resolve maps a card number or id to a call id. Unknown refs are taken as
// ids; known reports whether the board or the known set holds the call.
func (c *Controller) resolve(ref string) (id string, known bool) {
	if id, ok := c.board.Resolve(ref); ok {
		return id, true
	}
	return ref, c.engine.Knows(ref)
}

// Acknowledge marks the call seen. The card stays on the board; the aggregate
// title alert goes quiet once no unacknowledged call is left.
func (c *Controller) Acknowledge(ctx context.Context, ref string) error {
	id, known := c.resolve(ref)
	if known {
		c.engine.Acknowledge(id)
	}

	_, err := c.backend.Acknowledge(ctx, id)
	if c.metrics != nil {
		c.metrics.ActionObserved("acknowledge", err)
	}
	if err != nil && (!known || !isNotFound(err)) {
		return err
	}
	if !known {
		c.engine.Acknowledge(id)
	}
	log.Printf("Controller: acknowledged call %s", id)
	return nil
}

// Dismiss stops any playback of the call, deletes it on the backend and then
// forgets it locally. A known call the backend no longer holds is forgotten
// too; an unknown ref the backend rejects is an error.
func (c *Controller) Dismiss(ctx context.Context, ref string) error {
	id, known := c.resolve(ref)
	if c.player.Stop(id) {
		c.board.SetPlaying(id, false)
	}

	_, err := c.backend.Dismiss(ctx, id)
	if c.metrics != nil {
		c.metrics.ActionObserved("dismiss", err)
	}
	if err != nil && (!known || !isNotFound(err)) {
		return err
	}
	c.engine.Dismiss(id)
	log.Printf("Controller: dismissed call %s", id)

	c.mu.Lock()
	task := c.callsTask
	c.mu.Unlock()
	if task != nil {
		task.Trigger()
	}
	return nil
}

func isNotFound(err error) bool {
	var se *api.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// SetFilter replaces the state selection. A rejected selection is neither
// applied nor persisted.
func (c *Controller) SetFilter(ctx context.Context, names []string) (*api.FilterResult, error) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()

	candidate := c.engine.Filter()
	if err := candidate.Set(names); err != nil {
		return nil, err
	}
	return c.commitFilter(ctx, candidate)
}

// ToggleState adds or removes one state from the selection.
func (c *Controller) ToggleState(ctx context.Context, name string) (*api.FilterResult, error) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()

	candidate := c.engine.Filter()
	if err := candidate.Toggle(name); err != nil {
		return nil, err
	}
	return c.commitFilter(ctx, candidate)
}

// Filter returns a copy of the active filter.
func (c *Controller) Filter() *filter.StateFilter {
	return c.engine.Filter()
}

func (c *Controller) commitFilter(ctx context.Context, f *filter.StateFilter) (*api.FilterResult, error) {
	selected := f.Selected()
	if err := c.prefs.SaveSelectedStates(ctx, selected); err != nil {
		return nil, err
	}
	out := c.engine.SetFilter(ctx, f)
	c.board.SetFilterPanel(selected, f.MaxSelected(), c.Collapsed())
	log.Printf("Controller: state filter set to %v (%d visible calls)", selected, out.Visible)

	res, err := c.backend.SetStateFilter(ctx, selected)
	if c.metrics != nil {
		c.metrics.ActionObserved("state_filter", err)
	}
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return res, fmt.Errorf("backend rejected state filter: %s", res.Error)
	}
	if res.RemovedFromQueue > 0 {
		log.Printf("Controller: backend dropped %d queued calls outside the filter", res.RemovedFromQueue)
	}
	return res, nil
}

// Collapsed reports whether the filter panel is collapsed.
func (c *Controller) Collapsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collapsed
}

// SetCollapsed persists the filter panel collapsed flag.
func (c *Controller) SetCollapsed(ctx context.Context, collapsed bool) error {
	if err := c.prefs.SaveFilterCollapsed(ctx, collapsed); err != nil {
		return err
	}
	c.mu.Lock()
	c.collapsed = collapsed
	c.mu.Unlock()
	f := c.engine.Filter()
	c.board.SetFilterPanel(f.Selected(), f.MaxSelected(), collapsed)
	return nil
}

// ToggleCollapsed flips the filter panel and returns the new flag.
func (c *Controller) ToggleCollapsed(ctx context.Context) (bool, error) {
	next := !c.Collapsed()
	return next, c.SetCollapsed(ctx, next)
}

// Play starts the call's audio. Playing an unacknowledged call acknowledges it.
func (c *Controller) Play(ctx context.Context, ref string) error {
	id, _ := c.resolve(ref)
	card, ok := c.board.Card(id)
	if !ok {
		return fmt.Errorf("no call %q on the board", ref)
	}

	c.mu.Lock()
	playCtx := c.playCtx
	c.mu.Unlock()
	if err := c.player.Play(playCtx, id, card.Call.AudioURL); err != nil {
		return err
	}
	c.board.SetPlaying(id, true)

	if !card.Call.Acknowledged {
		return c.Acknowledge(ctx, id)
	}
	return nil
}

// Stop ends the call's audio.
func (c *Controller) Stop(ref string) bool {
	id, _ := c.resolve(ref)
	stopped := c.player.Stop(id)
	if stopped {
		c.board.SetPlaying(id, false)
	}
	return stopped
}

// SetVisible starts or stops the blinking alerts.
func (c *Controller) SetVisible(visible bool) {
	c.engine.SetVisible(visible)
}

// Run polls the calls and health endpoints until ctx is done. Poll failures
// never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	callsTask, err := poller.NewTask("fire-calls", c.cfg.PollInterval, c.Poll)
	if err != nil {
		return err
	}
	healthTask, err := poller.NewTask("health", c.cfg.HealthInterval, c.CheckHealth)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.callsTask = callsTask
	c.playCtx = ctx
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, task := range []*poller.Task{callsTask, healthTask} {
		wg.Add(1)
		go func(task *poller.Task) {
			defer wg.Done()
			task.Loop(ctx)
		}(task)
	}
	if c.metrics != nil && c.cfg.MetricsListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.metrics.Serve(ctx, c.cfg.MetricsListen); err != nil {
				log.Printf("Metrics: server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	c.player.StopAll()
	c.engine.Close()
	return nil
}
