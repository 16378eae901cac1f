// Package reconcile diffs the rendered card list against a freshly fetched
// call list. It has no side effects so it can be tested without a renderer.
package reconcile

import "github.com/mattmezza/callwatch/internal/api"

type OpKind int

const (
	Insert OpKind = iota
	Update
	Remove
)

func (k OpKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Op is one change to apply to the rendered list.
type Op struct {
	Kind  OpKind
	ID    string
	Index int      // position in the final order; -1 for Remove
	Call  api.Call // zero for Remove
}

// Plan is the ordered result of Compute: removals first, then inserts and
// updates in final list order.
type Plan struct {
	Ops   []Op
	Order []string // identifiers in final render order
}

// Count returns how many ops of kind k the plan holds.
func (p Plan) Count(k OpKind) int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == k {
			n++
		}
	}
	return n
}

// Empty reports whether applying the plan changes nothing structurally.
func (p Plan) Empty() bool {
	return p.Count(Insert) == 0 && p.Count(Remove) == 0
}

// Compute returns the operations turning rendered into calls. Cards whose id
// persists are updated in place; duplicate ids in calls keep the first entry.
func Compute(rendered []string, calls []api.Call) Plan {
	wanted := make(map[string]bool, len(calls))
	plan := Plan{Order: make([]string, 0, len(calls))}

	var ordered []api.Call
	for _, c := range calls {
		if c.ID == "" || wanted[c.ID] {
			continue
		}
		wanted[c.ID] = true
		ordered = append(ordered, c)
	}

	present := make(map[string]bool, len(rendered))
	for _, id := range rendered {
		if present[id] {
			continue
		}
		present[id] = true
		if !wanted[id] {
			plan.Ops = append(plan.Ops, Op{Kind: Remove, ID: id, Index: -1})
		}
	}

	for i, c := range ordered {
		kind := Insert
		if present[c.ID] {
			kind = Update
		}
		plan.Ops = append(plan.Ops, Op{Kind: kind, ID: c.ID, Index: i, Call: c})
		plan.Order = append(plan.Order, c.ID)
	}
	return plan
}
