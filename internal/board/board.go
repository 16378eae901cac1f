// Package board keeps the rendered call cards keyed by call id and draws them,
// together with the status line, filter panel and alert banner, to a terminal.
package board

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattmezza/callwatch/internal/api"
	"github.com/mattmezza/callwatch/internal/reconcile"
)

const (
	StatusConnecting = "Connecting"
	StatusError      = "Error"

	noTranscript = "No transcript"
	noAudio      = "No audio"
)

// Card is the render handle of one call. Playing survives in-place updates.
type Card struct {
	Call    api.Call
	Playing bool
	AddedAt time.Time
}

// PollSummary is the recent polling record shown under the status line.
type PollSummary struct {
	LastSuccess  time.Time // zero until a poll succeeds
	Failures     int       // consecutive failed polls
	Window       time.Duration
	Recent       int // polls within Window
	RecentFailed int
}

// Board is safe for concurrent use.
type Board struct {
	loc      *time.Location
	titleOut io.Writer
	now      func() time.Time

	mu        sync.Mutex
	order     []string
	cards     map[string]*Card
	border    bool
	title     string
	status    string
	health    *api.Health
	lastCheck string
	polls     *PollSummary
	selected  []string
	maxSel    int
	collapsed bool
	onChange  func()
}

// New returns an empty board. Title changes are written to titleOut as
// terminal title escapes; a nil titleOut only records them.
func New(titleOut io.Writer, loc *time.Location) *Board {
	if loc == nil {
		loc = time.Local
	}
	return &Board{
		loc:      loc,
		titleOut: titleOut,
		now:      time.Now,
		cards:    make(map[string]*Card),
		status:   StatusConnecting,
	}
}

// OnChange registers fn to run, without the board lock, after every change.
func (b *Board) OnChange(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *Board) changed() {
	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Order returns the card ids in render order.
func (b *Board) Order() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

// Apply executes a reconcile plan against the keyed card map.
func (b *Board) Apply(plan reconcile.Plan) {
	b.mu.Lock()
	now := b.now()
	for _, op := range plan.Ops {
		switch op.Kind {
		case reconcile.Remove:
			delete(b.cards, op.ID)
		case reconcile.Update:
			if card, ok := b.cards[op.ID]; ok {
				card.Call = op.Call
				continue
			}
			b.cards[op.ID] = &Card{Call: op.Call, AddedAt: now}
		case reconcile.Insert:
			b.cards[op.ID] = &Card{Call: op.Call, AddedAt: now}
		}
	}
	b.order = append(b.order[:0:0], plan.Order...)
	b.mu.Unlock()
	b.changed()
}

// Acknowledge marks the card acknowledged. It reports whether the card exists.
func (b *Board) Acknowledge(id string) bool {
	b.mu.Lock()
	card, ok := b.cards[id]
	if ok {
		card.Call.Acknowledged = true
	}
	b.mu.Unlock()
	if ok {
		b.changed()
	}
	return ok
}

// Remove drops the card. It reports whether the card existed.
func (b *Board) Remove(id string) bool {
	b.mu.Lock()
	_, ok := b.cards[id]
	if ok {
		delete(b.cards, id)
		for i, o := range b.order {
			if o == id {
				b.order = append(b.order[:i:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	if ok {
		b.changed()
	}
	return ok
}

// SetPlaying flags the card's audio as playing or stopped.
func (b *Board) SetPlaying(id string, playing bool) bool {
	b.mu.Lock()
	card, ok := b.cards[id]
	if ok {
		card.Playing = playing
	}
	b.mu.Unlock()
	if ok {
		b.changed()
	}
	return ok
}

func (b *Board) SetBorder(on bool) {
	b.mu.Lock()
	if b.border == on {
		b.mu.Unlock()
		return
	}
	b.border = on
	b.mu.Unlock()
	b.changed()
}

// SetTitle sets the terminal window title with an OSC 0 escape.
func (b *Board) SetTitle(title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.title = title
	if b.titleOut != nil {
		fmt.Fprintf(b.titleOut, "\033]0;%s\007", title)
	}
}

func (b *Board) Title() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.title
}

func (b *Board) Border() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.border
}

// SetStatus sets the status indicator text.
func (b *Board) SetStatus(status string) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	b.changed()
}

func (b *Board) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SetHealth records the backend health and uses its status as the indicator.
func (b *Board) SetHealth(h api.Health) {
	b.mu.Lock()
	b.health = &h
	b.status = h.Status
	if b.status == "" {
		b.status = "Unknown"
	}
	b.mu.Unlock()
	b.changed()
}

// SetLastCheck records when the backend last scanned for calls.
func (b *Board) SetLastCheck(ts string) {
	b.mu.Lock()
	b.lastCheck = ts
	b.mu.Unlock()
}

// SetPollSummary records the recent polling record.
func (b *Board) SetPollSummary(ps PollSummary) {
	b.mu.Lock()
	b.polls = &ps
	b.mu.Unlock()
	b.changed()
}

// SetFilterPanel records what the filter panel shows.
func (b *Board) SetFilterPanel(selected []string, maxSelected int, collapsed bool) {
	b.mu.Lock()
	b.selected = append([]string(nil), selected...)
	b.maxSel = maxSelected
	b.collapsed = collapsed
	b.mu.Unlock()
	b.changed()
}

// Cards returns copies of the cards in render order.
func (b *Board) Cards() []Card {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Card, 0, len(b.order))
	for _, id := range b.order {
		if card, ok := b.cards[id]; ok {
			out = append(out, *card)
		}
	}
	return out
}

// Card returns a copy of the card for id.
func (b *Board) Card(id string) (Card, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	card, ok := b.cards[id]
	if !ok {
		return Card{}, false
	}
	return *card, true
}

// Resolve maps a 1-based card number or a call id to a call id.
func (b *Board) Resolve(ref string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref = strings.TrimSpace(ref)
	if _, ok := b.cards[ref]; ok {
		return ref, true
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(b.order) {
		return b.order[n-1], true
	}
	return "", false
}
