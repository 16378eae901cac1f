// Package filter implements the bounded US state selection.
package filter

import (
	"errors"
	"fmt"

	"github.com/mattmezza/callwatch/internal/states"
)

// ErrTooManyStates is returned when a selection exceeds the configured bound.
var ErrTooManyStates = errors.New("too many states selected")

// StateFilter is the set of selected states. An empty filter passes every call.
type StateFilter struct {
	maxSelected int // 0 means unbounded
	selected    []string
	index       map[string]bool
}

// New returns a filter bounded to maxSelected states (0 for no bound) with
// initial selected. The initial selection must satisfy the bound.
func New(maxSelected int, initial []string) (*StateFilter, error) {
	f := &StateFilter{maxSelected: maxSelected, index: map[string]bool{}}
	if err := f.Set(initial); err != nil {
		return nil, err
	}
	return f, nil
}

// MaxSelected returns the bound, 0 meaning unbounded.
func (f *StateFilter) MaxSelected() int {
	return f.maxSelected
}

// Set replaces the selection. Names are normalised; a selection that is invalid
// or larger than the bound leaves the filter unchanged.
func (f *StateFilter) Set(names []string) error {
	normalized, err := states.NormalizeAll(names)
	if err != nil {
		return err
	}
	if f.maxSelected > 0 && len(normalized) > f.maxSelected {
		return fmt.Errorf("%w: %d selected, at most %d allowed", ErrTooManyStates, len(normalized), f.maxSelected)
	}
	index := make(map[string]bool, len(normalized))
	for _, name := range normalized {
		index[name] = true
	}
	f.selected = normalized
	f.index = index
	return nil
}

// Toggle adds name when absent and removes it when present.
func (f *StateFilter) Toggle(name string) error {
	canonical, err := states.Normalize(name)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(f.selected)+1)
	removed := false
	for _, s := range f.selected {
		if s == canonical {
			removed = true
			continue
		}
		next = append(next, s)
	}
	if !removed {
		next = append(next, canonical)
	}
	return f.Set(next)
}

// Selected returns a copy of the selection in selection order.
func (f *StateFilter) Selected() []string {
	out := make([]string, len(f.selected))
	copy(out, f.selected)
	return out
}

// Empty reports whether no state is selected.
func (f *StateFilter) Empty() bool {
	return len(f.selected) == 0
}

// Allows reports whether a call in state passes the filter.
func (f *StateFilter) Allows(state string) bool {
	return f.Empty() || f.index[state]
}

// Clone returns an independent copy.
func (f *StateFilter) Clone() *StateFilter {
	c := &StateFilter{maxSelected: f.maxSelected, selected: f.Selected(), index: make(map[string]bool, len(f.index))}
	for k, v := range f.index {
		c.index[k] = v
	}
	return c
}
