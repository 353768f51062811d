// Package geometry holds die/core bounding boxes and the utilization math
// used to size a floorplan from a synthesized cell area.
package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// IOMargin is the gap between the die edge and the core on every side.
	IOMargin = 10.0
	// MaxCellArea bounds the synthesized cell area the flow accepts.
	MaxCellArea = 1_000_000.0
)

// Rect is an axis-aligned box given by its lower-left and upper-right corners.
type Rect struct {
	LLX, LLY, URX, URY float64
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

// IsZero reports whether r is the zero box.
func (r Rect) IsZero() bool {
	return r == Rect{}
}

// String formats r as "llx lly urx ury", the form the tools read.
func (r Rect) String() string {
	return strings.Join([]string{
		formatFloat(r.LLX), formatFloat(r.LLY), formatFloat(r.URX), formatFloat(r.URY),
	}, " ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ParseRect parses four numbers separated by spaces and/or commas.
func ParseRect(s string) (Rect, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) != 4 {
		return Rect{}, fmt.Errorf("parse box %q: want 4 numbers, got %d", s, len(fields))
	}
	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Rect{}, fmt.Errorf("parse box %q: %w", s, err)
		}
		v[i] = n
	}
	r := Rect{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}
	if r.Width() <= 0 || r.Height() <= 0 {
		return Rect{}, fmt.Errorf("parse box %q: upper-right corner must exceed lower-left", s)
	}
	return r, nil
}

// ConstraintError reports an unsatisfiable or ambiguous area constraint.
type ConstraintError struct {
	Reason string
}

func (e *ConstraintError) Error() string {
	return "area constraint: " + e.Reason
}

// CellAreaExceededError is returned when a synthesized cell area is above MaxCellArea.
type CellAreaExceededError struct {
	CellArea float64
	Limit    float64
}

func (e *CellAreaExceededError) Error() string {
	return fmt.Sprintf("cell area %g exceeds processing limit %g", e.CellArea, e.Limit)
}

func validUtil(u float64) bool {
	return u > 0 && u < 1
}

// FromUtilization sizes a square core holding cellArea at the target
// utilization and surrounds it with IOMargin on every side.
func FromUtilization(cellArea, util float64) (die, core Rect, err error) {
	if !validUtil(util) {
		return Rect{}, Rect{}, &ConstraintError{Reason: fmt.Sprintf("core utilization %g not in (0,1)", util)}
	}
	if cellArea <= 0 {
		return Rect{}, Rect{}, &ConstraintError{Reason: fmt.Sprintf("cell area %g must be positive", cellArea)}
	}
	side := math.Sqrt(cellArea / util)
	die = Rect{LLX: 0, LLY: 0, URX: side + 2*IOMargin, URY: side + 2*IOMargin}
	core = Rect{LLX: IOMargin, LLY: IOMargin, URX: side + IOMargin, URY: side + IOMargin}
	return die, core, nil
}

// UtilizationFromCore returns cellArea / core.Area(). The result must lie
// strictly between 0 and 1.
func UtilizationFromCore(cellArea float64, core Rect) (float64, error) {
	area := core.Area()
	if area <= 0 {
		return 0, &ConstraintError{Reason: fmt.Sprintf("core box %s has no area", core)}
	}
	u := cellArea / area
	if !validUtil(u) {
		return 0, &ConstraintError{Reason: fmt.Sprintf("derived core utilization %g not in (0,1) (cell area %g, core area %g)", u, cellArea, area)}
	}
	return u, nil
}

// Resolve decides the floorplan boxes for a freshly synthesized design.
// Exactly one of {die and core boxes, target utilization} must be given.
func Resolve(cellArea float64, die, core *Rect, util float64) (Rect, Rect, float64, error) {
	if cellArea <= 0 {
		return Rect{}, Rect{}, 0, &ConstraintError{Reason: fmt.Sprintf("cell area %g must be positive", cellArea)}
	}
	if cellArea > MaxCellArea {
		return Rect{}, Rect{}, 0, &CellAreaExceededError{CellArea: cellArea, Limit: MaxCellArea}
	}

	haveBoxes := die != nil && core != nil
	haveUtil := util != 0
	switch {
	case (die == nil) != (core == nil):
		return Rect{}, Rect{}, 0, &ConstraintError{Reason: "die and core boxes must be given together"}
	case haveBoxes && haveUtil:
		return Rect{}, Rect{}, 0, &ConstraintError{Reason: "give either die/core boxes or a core utilization, not both"}
	case !haveBoxes && !haveUtil:
		return Rect{}, Rect{}, 0, &ConstraintError{Reason: "neither die/core boxes nor a core utilization given"}
	case haveUtil:
		d, c, err := FromUtilization(cellArea, util)
		if err != nil {
			return Rect{}, Rect{}, 0, err
		}
		return d, c, util, nil
	}

	u, err := UtilizationFromCore(cellArea, *core)
	if err != nil {
		return Rect{}, Rect{}, 0, err
	}
	return *die, *core, u, nil
}
