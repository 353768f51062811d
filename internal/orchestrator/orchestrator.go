// Package orchestrator drives a design through the flow: every remaining
// stage in order, with the layout exports and signoff runs that go with it.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Emin017/RTL2GDS/internal/config"
	"github.com/Emin017/RTL2GDS/internal/db"
	"github.com/Emin017/RTL2GDS/internal/layoutjson"
	"github.com/Emin017/RTL2GDS/internal/pipeline"
	"github.com/Emin017/RTL2GDS/internal/stage"
	"github.com/Emin017/RTL2GDS/internal/step"
)

// EventLogger receives pipeline lifecycle events. *db.DB implements it.
type EventLogger interface {
	LogPipelineEvent(runID, topName, event, stage, detail string) error
}

// Driver composes stage runs into a full flow.
type Driver struct {
	engine   *stage.Engine
	chunk    layoutjson.Options
	events   EventLogger
	progress io.Writer
}

// NewDriver creates a Driver.
func NewDriver(engine *stage.Engine, cfg *config.Config) *Driver {
	return &Driver{
		engine: engine,
		chunk: layoutjson.Options{
			MaxBytes: cfg.Chunk.MaxBytes,
			Workers:  cfg.Chunk.Workers,
		},
	}
}

// SetEvents attaches a pipeline event log.
func (d *Driver) SetEvents(l EventLogger) {
	d.events = l
}

// SetProgress sets a writer for live progress output.
func (d *Driver) SetProgress(w io.Writer) {
	d.progress = w
}

func (d *Driver) logf(format string, args ...any) {
	if d.progress != nil {
		fmt.Fprintf(d.progress, "  → "+format+"\n", args...)
	}
}

// Options selects the optional work done around each stage.
type Options struct {
	Snapshot   bool // render a PNG after placement and filler
	LayoutJSON bool // dump and split layout JSON after layout-changing stages
	Signoff    bool // run STA once the flow has finished
}

// StepOutput is the outcome of one stage and the exports that followed it.
type StepOutput struct {
	Result   *stage.Result
	GDS      string             // exported GDS, if any
	Snapshot string             // rendered image, if any
	Layout   *layoutjson.Output // split layout JSON, if any
	Timing   StepTiming
}

// changesLayout reports whether id rewrites the DEF, so the layout is
// exported after it.
func changesLayout(id step.ID) bool {
	switch id {
	case step.Floorplan, step.Placement, step.CTS, step.Legalization, step.Routing, step.Filler:
		return true
	}
	return false
}

// RunAll runs every remaining stage of s in order and stops at the first
// failure. It succeeds only once the last stage has finished and its GDS
// exists. The returned Timings cover the stages that ran either way.
func (d *Driver) RunAll(ctx context.Context, s *pipeline.DesignState, opts Options) (*Timings, error) {
	t := NewTimings()
	d.event(s, db.EventRunStarted, s.ExpectedStage(), "")

	for {
		id, ok := step.NextExpected(s.FinishedStage)
		if !ok {
			break
		}
		if _, err := d.runStage(ctx, s, id, opts, t); err != nil {
			t.Finish()
			d.event(s, db.EventRunFailed, id, err.Error())
			return t, err
		}
	}

	if opts.Signoff {
		if err := d.signoff(ctx, s, t); err != nil {
			t.Finish()
			d.event(s, db.EventRunFailed, step.STA, err.Error())
			return t, err
		}
	}
	t.Finish()

	if !s.Done() {
		err := fmt.Errorf("flow stopped at %s", s.FinishedStage)
		d.event(s, db.EventRunFailed, s.FinishedStage, err.Error())
		return t, err
	}
	if _, err := os.Stat(s.GdsPath); err != nil {
		err = fmt.Errorf("flow finished without a GDS: %w", err)
		d.event(s, db.EventRunFailed, s.FinishedStage, err.Error())
		return t, err
	}
	d.event(s, db.EventRunCompleted, s.FinishedStage, s.GdsPath)
	d.logf("%s finished in %s, GDS at %s", s.TopName, t.Total.Round(time.Millisecond), s.GdsPath)
	return t, nil
}

// RunStep runs the single stage id and its exports, then returns. This is
// the mode used when each stage runs as its own job.
func (d *Driver) RunStep(ctx context.Context, s *pipeline.DesignState, id step.ID, opts Options) (*StepOutput, error) {
	if !id.Ordered() {
		return nil, fmt.Errorf("%q is not a flow stage", id)
	}
	t := NewTimings()
	out, err := d.runStage(ctx, s, id, opts, t)
	t.Finish()
	return out, err
}

func (d *Driver) runStage(ctx context.Context, s *pipeline.DesignState, id step.ID, opts Options, t *Timings) (*StepOutput, error) {
	res, err := d.engine.Run(ctx, s, id)
	out := &StepOutput{Result: res}
	if res != nil {
		out.Timing = t.Add(id, res)
	}
	if err != nil {
		d.event(s, db.EventStageFailed, id, err.Error())
		return out, err
	}
	d.event(s, db.EventStageComplete, id, "")

	if !changesLayout(id) {
		return out, nil
	}
	gds, err := d.engine.RunAux(ctx, s, step.LayoutGDS, nil)
	if err != nil {
		return out, fmt.Errorf("export gds after %s: %w", id, err)
	}
	out.GDS = s.GdsPath
	t.Add(step.LayoutGDS, gds)
	d.event(s, db.EventLayoutExport, id, s.GdsPath)

	if opts.Snapshot && (id == step.Placement || id == step.Filler) {
		snap, err := d.engine.RunAux(ctx, s, step.Snapshot, nil)
		if err != nil {
			return out, fmt.Errorf("snapshot after %s: %w", id, err)
		}
		out.Snapshot = snap.Artifacts["snapshot_file"]
	}

	if opts.LayoutJSON {
		layout, err := d.exportLayoutJSON(ctx, s, t)
		if err != nil {
			return out, fmt.Errorf("layout json after %s: %w", id, err)
		}
		out.Layout = layout
		d.event(s, db.EventLayoutSplit, id, fmt.Sprintf("%d chunks", len(layout.Chunks)))
	}
	return out, nil
}

func (d *Driver) exportLayoutJSON(ctx context.Context, s *pipeline.DesignState, t *Timings) (*layoutjson.Output, error) {
	res, err := d.engine.RunAux(ctx, s, step.LayoutJSON, nil)
	if err != nil {
		return nil, err
	}
	t.Add(step.LayoutJSON, res)
	layout, err := layoutjson.Split(ctx, res.Artifacts["layout_json"], d.chunk)
	if err != nil {
		return nil, err
	}
	d.logf("layout json split into %d chunks", len(layout.Chunks))
	return layout, nil
}

func (d *Driver) signoff(ctx context.Context, s *pipeline.DesignState, t *Timings) error {
	res, err := d.engine.RunAux(ctx, s, step.STA, nil)
	if res != nil {
		t.Add(step.STA, res)
	}
	if err != nil {
		return fmt.Errorf("signoff sta: %w", err)
	}
	d.event(s, db.EventStageComplete, step.STA, res.Artifacts["sta_report_dir"])
	return nil
}

func (d *Driver) event(s *pipeline.DesignState, event string, id step.ID, detail string) {
	if d.events == nil {
		return
	}
	if err := d.events.LogPipelineEvent(s.RunID, s.TopName, event, string(id), detail); err != nil {
		d.logf("warning: logging %s event: %v", event, err)
	}
}
