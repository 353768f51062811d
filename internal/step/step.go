package step

import "fmt"

// ID identifies a flow step.
type ID string

// Ordered flow steps. Init is the sentinel a fresh design starts from.
const (
	Init         ID = "init"
	Synthesis    ID = "synthesis"
	Floorplan    ID = "floorplan"
	NetlistOpt   ID = "netlist_opt"
	Placement    ID = "placement"
	CTS          ID = "cts"
	Legalization ID = "legalization"
	Routing      ID = "routing"
	Filler       ID = "filler"
)

// Auxiliary tools. They read the current layout but are not part of the
// enforced order and never advance the finished step.
const (
	LayoutGDS  ID = "layout_gds"
	LayoutJSON ID = "layout_json"
	Snapshot   ID = "snapshot"
	STA        ID = "sta"
	DRC        ID = "drc"
)

var order = []ID{Init, Synthesis, Floorplan, NetlistOpt, Placement, CTS, Legalization, Routing, Filler}

var auxiliary = []ID{LayoutGDS, LayoutJSON, Snapshot, STA, DRC}

// Order returns a copy of the fixed flow order, starting at Init.
func Order() []ID {
	out := make([]ID, len(order))
	copy(out, order)
	return out
}

// Last returns the terminal step of the flow.
func Last() ID {
	return order[len(order)-1]
}

func index(id ID) int {
	for i, s := range order {
		if s == id {
			return i
		}
	}
	return -1
}

// Ordered reports whether id is part of the enforced flow order.
func (id ID) Ordered() bool {
	return index(id) >= 0
}

// Valid reports whether id names any known step, ordered or auxiliary.
func (id ID) Valid() bool {
	if id.Ordered() {
		return true
	}
	for _, a := range auxiliary {
		if a == id {
			return true
		}
	}
	return false
}

func (id ID) String() string {
	return string(id)
}

// Parse converts a step name into an ID.
func Parse(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("unknown step %q", s)
	}
	return id, nil
}

// NextExpected returns the step that immediately follows finished in the
// flow order. It returns false when finished is the last step or is not an
// ordered step.
func NextExpected(finished ID) (ID, bool) {
	i := index(finished)
	if i < 0 || i == len(order)-1 {
		return "", false
	}
	return order[i+1], true
}

// After reports whether a comes strictly after b in the flow order.
func After(a, b ID) bool {
	ia, ib := index(a), index(b)
	return ia >= 0 && ib >= 0 && ia > ib
}

// SequenceError is returned when a step is requested out of order.
type SequenceError struct {
	Finished  ID
	Expected  ID // empty when the flow is already complete
	Requested ID
}

func (e *SequenceError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("step %q requested but flow already finished at %q", e.Requested, e.Finished)
	}
	return fmt.Sprintf("step %q requested but expected %q (finished %q)", e.Requested, e.Expected, e.Finished)
}

// AssertLegal fails with a *SequenceError unless requested is exactly the
// next step after finished.
func AssertLegal(finished, requested ID) error {
	next, ok := NextExpected(finished)
	if !ok || next != requested {
		return &SequenceError{Finished: finished, Expected: next, Requested: requested}
	}
	return nil
}
