// Package state holds the client's memory of which calls it has already seen.
package state

import "sort"

// KnownCalls is the set of call identifiers observed at least once.
// It only shrinks through Forget, which dismiss uses.
type KnownCalls map[string]bool

// Has reports whether id has been observed.
func (k KnownCalls) Has(id string) bool {
	return k[id]
}

// Merge adds ids and returns the ones that were not known before, in input order.
func (k KnownCalls) Merge(ids ...string) []string {
	var added []string
	for _, id := range ids {
		if id == "" || k[id] {
			continue
		}
		k[id] = true
		added = append(added, id)
	}
	return added
}

// Forget removes id. It reports whether id was known.
func (k KnownCalls) Forget(id string) bool {
	if !k[id] {
		return false
	}
	delete(k, id)
	return true
}

// IDs returns the known identifiers sorted.
func (k KnownCalls) IDs() []string {
	out := make([]string, 0, len(k))
	for id := range k {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// App is the mutable state owned by the controller.
type App struct {
	Known KnownCalls
	// Alerted tracks calls whose new-call bundle already fired.
	Alerted KnownCalls
	// LastApplied is the sequence number of the newest poll result applied to the board.
	LastApplied uint64
	// UnackCount is the unacknowledged, filtered count from the last applied poll.
	UnackCount int
}

func NewApp() *App {
	return &App{
		Known:   make(KnownCalls),
		Alerted: make(KnownCalls),
	}
}

// Forget drops every trace of id so a later fetch treats it as new again.
func (a *App) Forget(id string) {
	a.Known.Forget(id)
	a.Alerted.Forget(id)
}
