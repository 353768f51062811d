// Package pipeline holds the design state that flows between stages and
// persists it as a resumable checkpoint.
package pipeline

import (
	"time"

	"github.com/Emin017/RTL2GDS/internal/geometry"
	"github.com/Emin017/RTL2GDS/internal/step"
)

// DesignState is everything one design run knows about its inputs, its
// current layout files and the constraints and metrics measured so far.
type DesignState struct {
	RunID      string
	TopName    string
	RTLSources []string

	NetlistPath string
	DefPath     string
	GdsPath     string
	SDCPath     string
	ResultDir   string

	Constraint Constraint
	Metrics    Metrics

	FinishedStage step.ID
	LastUpdate    time.Time
}

// ExpectedStage is the stage that may legally run next, or "" once the
// flow has finished.
func (s *DesignState) ExpectedStage() step.ID {
	next, _ := step.NextExpected(s.FinishedStage)
	return next
}

// Done reports whether the last stage of the flow has finished.
func (s *DesignState) Done() bool {
	return s.FinishedStage == step.Last()
}

// Clone returns a deep copy of s.
func (s *DesignState) Clone() *DesignState {
	c := *s
	c.RTLSources = append([]string(nil), s.RTLSources...)
	c.Constraint = s.Constraint.clone()
	return &c
}

// Constraint holds the timing and area targets. Nil boxes and a zero
// CoreUtilization mean "not set".
type Constraint struct {
	ClockPortName   string
	ClockFreqMHz    float64
	DieBox          *geometry.Rect
	CoreBox         *geometry.Rect
	CoreUtilization float64
}

func (c Constraint) clone() Constraint {
	if c.DieBox != nil {
		d := *c.DieBox
		c.DieBox = &d
	}
	if c.CoreBox != nil {
		b := *c.CoreBox
		c.CoreBox = &b
	}
	return c
}

// Metrics accumulates what the stages have measured. Zero means unmeasured.
type Metrics struct {
	InstanceCount   int     `json:"instance_count" yaml:"INSTANCE_COUNT"`
	CellArea        float64 `json:"cell_area" yaml:"CELL_AREA"`
	DieArea         float64 `json:"die_area" yaml:"DIE_AREA"`
	CoreArea        float64 `json:"core_area" yaml:"CORE_AREA"`
	DieUtilization  float64 `json:"die_utilization" yaml:"DIE_UTIL"`
	CoreUtilization float64 `json:"core_utilization" yaml:"CORE_UTIL"`
}

// Merge overwrites the fields r carries and leaves the rest untouched.
// Utilizations outside (0,1) are ignored.
func (m *Metrics) Merge(r step.Report) {
	if r.InstanceCount != nil {
		m.InstanceCount = *r.InstanceCount
	}
	if r.CellArea != nil {
		m.CellArea = *r.CellArea
	}
	if r.DieArea != nil {
		m.DieArea = *r.DieArea
	}
	if r.CoreArea != nil {
		m.CoreArea = *r.CoreArea
	}
	if u := r.DieUtilization; u != nil && ratio(*u) {
		m.DieUtilization = *u
	}
	if u := r.CoreUtilization; u != nil && ratio(*u) {
		m.CoreUtilization = *u
	}
}

// ratio reports whether u is a usable utilization, strictly inside (0,1).
func ratio(u float64) bool {
	return u > 0 && u < 1
}
