package orchestrator

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Emin017/RTL2GDS/internal/geometry"
	"github.com/Emin017/RTL2GDS/internal/pipeline"
	"github.com/Emin017/RTL2GDS/internal/stage"
	"github.com/Emin017/RTL2GDS/internal/step"
)

// StepTiming is the wall time spent in one stage or tool. Tools that run
// several times in a flow (layout export) accumulate.
type StepTiming struct {
	Started time.Time
	Elapsed time.Duration
	Runs    int
}

// Timings is the wall-clock record of a flow run.
type Timings struct {
	Steps map[step.ID]StepTiming
	Start time.Time
	End   time.Time
	Total time.Duration
}

// NewTimings starts a timing record now.
func NewTimings() *Timings {
	return &Timings{Steps: make(map[step.ID]StepTiming), Start: time.Now()}
}

// Add records one invocation and returns the accumulated timing for id.
func (t *Timings) Add(id step.ID, res *stage.Result) StepTiming {
	st, ok := t.Steps[id]
	if !ok {
		st.Started = res.Started
	}
	st.Elapsed += res.Elapsed
	st.Runs++
	t.Steps[id] = st
	return st
}

// Finish stamps the end of the run.
func (t *Timings) Finish() {
	t.End = time.Now()
	t.Total = t.End.Sub(t.Start)
}

type stepTimingDoc struct {
	Started string  `json:"started"`
	Seconds float64 `json:"seconds"`
	Runs    int     `json:"runs"`
}

type timingsDoc struct {
	Start        string                   `json:"start"`
	End          string                   `json:"end"`
	TotalSeconds float64                  `json:"total_seconds"`
	Steps        map[string]stepTimingDoc `json:"steps"`
}

func (t *Timings) doc() timingsDoc {
	d := timingsDoc{
		Start:        t.Start.UTC().Format(time.RFC3339),
		End:          t.End.UTC().Format(time.RFC3339),
		TotalSeconds: seconds(t.Total),
		Steps:        make(map[string]stepTimingDoc, len(t.Steps)),
	}
	for id, st := range t.Steps {
		d.Steps[string(id)] = stepTimingDoc{
			Started: st.Started.UTC().Format(time.RFC3339),
			Seconds: seconds(st.Elapsed),
			Runs:    st.Runs,
		}
	}
	return d
}

func seconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

// WriteTimings writes t to {resultDir}/evaluation/{top}_execution_time_{ts}.json.
func WriteTimings(resultDir, top string, t *Timings) (string, error) {
	end := t.End
	if end.IsZero() {
		end = time.Now()
	}
	name := fmt.Sprintf("%s_execution_time_%s.json", top, end.Local().Format("20060102_150405"))
	path := filepath.Join(resultDir, pipeline.EvaluationDir, name)
	if err := pipeline.WriteJSON(path, t.doc()); err != nil {
		return "", fmt.Errorf("write timings: %w", err)
	}
	return path, nil
}

type finalMetricsDoc struct {
	RunID         string           `json:"run_id"`
	TopName       string           `json:"top_name"`
	FinishedStage string           `json:"finished_stage"`
	GdsFile       string           `json:"gds_file,omitempty"`
	DieBox        string           `json:"die_area,omitempty"`
	CoreBox       string           `json:"core_area,omitempty"`
	CoreUtil      float64          `json:"core_util,omitempty"`
	ClockFreqMHz  float64          `json:"clk_freq_mhz,omitempty"`
	Metrics       pipeline.Metrics `json:"metrics"`
	Timing        *timingsDoc      `json:"timing,omitempty"`
}

func boxString(r *geometry.Rect) string {
	if r == nil {
		return ""
	}
	return r.String()
}

// WriteFinalMetrics writes the design's final metrics, and t when non-nil,
// to {resultDir}/evaluation/final_metrics.json.
func WriteFinalMetrics(s *pipeline.DesignState, t *Timings) (string, error) {
	d := finalMetricsDoc{
		RunID:         s.RunID,
		TopName:       s.TopName,
		FinishedStage: string(s.FinishedStage),
		GdsFile:       s.GdsPath,
		DieBox:        boxString(s.Constraint.DieBox),
		CoreBox:       boxString(s.Constraint.CoreBox),
		CoreUtil:      s.Constraint.CoreUtilization,
		ClockFreqMHz:  s.Constraint.ClockFreqMHz,
		Metrics:       s.Metrics,
	}
	if t != nil {
		td := t.doc()
		d.Timing = &td
	}
	path := filepath.Join(s.ResultDir, pipeline.EvaluationDir, "final_metrics.json")
	if err := pipeline.WriteJSON(path, d); err != nil {
		return "", fmt.Errorf("write final metrics: %w", err)
	}
	return path, nil
}
