// Package stage runs one flow stage against a design: it invokes the
// stage's tool, verifies its outputs, folds its report into the design state
// and checkpoints the result.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Emin017/RTL2GDS/internal/config"
	"github.com/Emin017/RTL2GDS/internal/db"
	"github.com/Emin017/RTL2GDS/internal/geometry"
	"github.com/Emin017/RTL2GDS/internal/pipeline"
	"github.com/Emin017/RTL2GDS/internal/step"
	"github.com/Emin017/RTL2GDS/internal/tool"
)

// Recorder receives one row per tool invocation. *db.DB implements it.
type Recorder interface {
	RecordStageRun(r *db.StageRun) error
}

// Engine executes stages.
type Engine struct {
	catalog  *step.Catalog
	runner   tool.CommandRunner
	tools    config.Tools
	timeout  time.Duration // per tool invocation; 0 = none
	recorder Recorder
	progress io.Writer // live progress output; nil = silent
}

// NewEngine creates a stage engine.
func NewEngine(catalog *step.Catalog, runner tool.CommandRunner, cfg *config.Config) *Engine {
	return &Engine{
		catalog: catalog,
		runner:  runner,
		tools:   cfg.Tools,
		timeout: cfg.Timeout(),
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
// Tool output is echoed to it as well.
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// SetRecorder attaches a run-history recorder.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// Catalog returns the engine's stage catalog.
func (e *Engine) Catalog() *step.Catalog {
	return e.catalog
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...any) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Result captures the outcome of one tool invocation.
type Result struct {
	Stage      step.ID
	Metrics    pipeline.Metrics
	Artifacts  map[string]string // logical name → resolved path
	ExitCode   int
	Started    time.Time
	Elapsed    time.Duration
	Log        string // captured tool output
	Checkpoint string // checkpoint written after the stage, if any
}

// Run executes stage id against s. On success s has advanced to id and has
// been checkpointed; on failure s is left unchanged.
func (e *Engine) Run(ctx context.Context, s *pipeline.DesignState, id step.ID) (*Result, error) {
	if err := step.AssertLegal(s.FinishedStage, id); err != nil {
		return nil, err
	}
	d, err := e.catalog.Lookup(id)
	if err != nil {
		return nil, err
	}
	e.logf("%s: %s", id, d.Description)

	res, err := e.execute(ctx, s, d, nil)
	if err != nil {
		e.record(s, res, err)
		return res, err
	}

	next := s.Clone()
	if err := e.apply(next, d, res); err != nil {
		e.record(s, res, err)
		return res, err
	}
	next.FinishedStage = id

	path, err := pipeline.NewStore(next.ResultDir).Snapshot(next)
	if err != nil {
		err = fmt.Errorf("checkpoint after %s: %w", id, err)
		e.record(s, res, err)
		return res, err
	}
	*s = *next
	res.Metrics = s.Metrics
	res.Checkpoint = path

	e.record(s, res, nil)
	e.logf("%s finished in %s, next: %s", id, res.Elapsed.Round(time.Millisecond), nextLabel(s))
	return res, nil
}

func nextLabel(s *pipeline.DesignState) string {
	if next := s.ExpectedStage(); next != "" {
		return string(next)
	}
	return "none (flow complete)"
}

// RunAux runs an auxiliary tool against the current layout. It never
// advances s.FinishedStage. layout_gds records the exported file in s.GdsPath
// and checkpoints. extraEnv is added to the tool environment.
func (e *Engine) RunAux(ctx context.Context, s *pipeline.DesignState, id step.ID, extraEnv map[string]string) (*Result, error) {
	if id.Ordered() || !id.Valid() {
		return nil, fmt.Errorf("%q is not an auxiliary tool", id)
	}
	need := step.Floorplan
	if id == step.STA || id == step.DRC {
		need = step.Last()
	}
	if s.FinishedStage != need && !step.After(s.FinishedStage, need) {
		return nil, &PrerequisiteError{Tool: id, Finished: s.FinishedStage, Need: need}
	}
	if id == step.DRC || id == step.Snapshot {
		if _, err := os.Stat(s.GdsPath); err != nil {
			return nil, &MissingArtifactError{Stage: id, Artifact: "gds_file", Path: s.GdsPath}
		}
	}

	d, err := e.catalog.Lookup(id)
	if err != nil {
		return nil, err
	}
	e.logf("%s: %s", id, d.Description)

	res, err := e.execute(ctx, s, d, extraEnv)
	if err != nil {
		e.record(s, res, err)
		return res, err
	}

	if id == step.LayoutGDS {
		next := s.Clone()
		next.GdsPath = res.Artifacts["gds_file"]
		path, err := pipeline.NewStore(next.ResultDir).Checkpoint(next)
		if err != nil {
			err = fmt.Errorf("checkpoint after %s: %w", id, err)
			e.record(s, res, err)
			return res, err
		}
		*s = *next
		res.Checkpoint = path
	}
	res.Metrics = s.Metrics
	e.record(s, res, nil)
	return res, nil
}

// execute resolves the descriptor against s, runs the tool and verifies its
// artifacts. It does not touch s.
func (e *Engine) execute(ctx context.Context, s *pipeline.DesignState, d step.Descriptor, extraEnv map[string]string) (*Result, error) {
	vars := step.Vars{
		TopName:     s.TopName,
		ResultDir:   s.ResultDir,
		Stage:       d.ID,
		Finished:    s.FinishedStage,
		Tool:        d.Tool,
		NetlistFile: s.NetlistPath,
		GdsFile:     s.GdsPath,
		ToolDir:     e.tools.ToolDir,
		ScriptDir:   e.tools.ScriptDir,
		FoundryDir:  e.tools.FoundryDir,
	}
	arts := make(map[string]string, len(d.Artifacts))
	for _, a := range d.Artifacts {
		arts[a.Name] = step.Expand(a.Template, vars)
	}

	store := pipeline.NewStore(s.ResultDir)
	if err := store.EnsureLayout(); err != nil {
		return nil, err
	}
	for _, a := range d.Artifacts {
		if a.Dir {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(arts[a.Name]), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir for %s: %w", a.Name, err)
		}
	}

	// Auxiliary tools run once per layout; keep each invocation's log.
	logName := string(d.ID)
	if !d.ID.Ordered() {
		logName += "_" + string(s.FinishedStage)
	}
	logPath := filepath.Join(store.Subdir(pipeline.LogDir), logName+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create tool log: %w", err)
	}
	defer logFile.Close()
	var out io.Writer = logFile
	if e.progress != nil {
		out = io.MultiWriter(logFile, e.progress)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res := &Result{Stage: d.ID, Artifacts: arts, Started: time.Now(), Log: logPath}
	code, err := e.runner.Run(runCtx, tool.Invocation{
		Argv:   step.ExpandAll(d.Command, vars),
		Env:    e.environment(s, d, arts, extraEnv),
		Stdout: out,
		Stderr: out,
	})
	res.Elapsed = time.Since(res.Started)
	res.ExitCode = code
	if e.timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, fmt.Errorf("run %s: timed out after %s", d.ID, e.timeout)
	}
	if err != nil {
		return res, fmt.Errorf("run %s: %w", d.ID, err)
	}
	if code != 0 {
		return res, &ToolExecutionError{Stage: d.ID, ExitCode: code, Log: logPath}
	}

	for _, a := range d.Artifacts {
		info, err := os.Stat(arts[a.Name])
		if err != nil || info.IsDir() != a.Dir {
			return res, &MissingArtifactError{Stage: d.ID, Artifact: a.Name, Path: arts[a.Name]}
		}
	}
	return res, nil
}

// environment layers, lowest first: toolchain paths, the design state,
// stage artifact paths, caller extras.
func (e *Engine) environment(s *pipeline.DesignState, d step.Descriptor, arts, extra map[string]string) map[string]string {
	env := tool.ToolchainEnv(e.tools)
	for k, v := range pipeline.ToolEnvironment(s) {
		env[k] = v
	}
	if env[pipeline.EnvSDCFile] == "" && e.tools.SDCFile != "" {
		env[pipeline.EnvSDCFile] = e.tools.SDCFile
	}
	for _, a := range d.Artifacts {
		if a.Env != "" {
			env[a.Env] = arts[a.Name]
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

// apply folds a successful stage's outputs into next.
func (e *Engine) apply(next *pipeline.DesignState, d step.Descriptor, res *Result) error {
	if p, ok := res.Artifacts["netlist"]; ok {
		next.NetlistPath = p
	}
	if d.ProducesDEF {
		next.DefPath = res.Artifacts["def"]
	}
	if d.Report == nil {
		return nil
	}

	path := res.Artifacts[step.ReportArtifact]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s report: %w", d.ID, err)
	}
	rep, err := d.Report(data)
	if err != nil {
		return fmt.Errorf("parse %s report %s: %w", d.ID, path, err)
	}

	c := &next.Constraint
	switch d.ID {
	case step.Synthesis:
		die, core, util, err := geometry.Resolve(*rep.CellArea, c.DieBox, c.CoreBox, c.CoreUtilization)
		if err != nil {
			return fmt.Errorf("%s: %w", d.ID, err)
		}
		c.DieBox, c.CoreBox, c.CoreUtilization = &die, &core, util
		e.logf("die %s, core %s, core utilization %.3f", die, core, util)
	case step.Floorplan:
		if rep.DieBox != nil {
			c.DieBox = rep.DieBox
		}
		if rep.CoreBox != nil {
			c.CoreBox = rep.CoreBox
		}
		if u := rep.CoreUtilization; u != nil && *u > 0 && *u < 1 {
			c.CoreUtilization = *u
		}
	}
	if d.ID == step.Synthesis || d.ID == step.Floorplan {
		fillAreas(&rep, *c)
	}
	next.Metrics.Merge(rep)
	return nil
}

// fillAreas derives die and core areas from the boxes when the report has none.
func fillAreas(rep *step.Report, c pipeline.Constraint) {
	if rep.DieArea == nil && c.DieBox != nil {
		a := c.DieBox.Area()
		rep.DieArea = &a
	}
	if rep.CoreArea == nil && c.CoreBox != nil {
		a := c.CoreBox.Area()
		rep.CoreArea = &a
	}
}

func (e *Engine) record(s *pipeline.DesignState, res *Result, runErr error) {
	if e.recorder == nil || res == nil {
		return
	}
	run := &db.StageRun{
		RunID:         s.RunID,
		TopName:       s.TopName,
		Stage:         string(res.Stage),
		Outcome:       db.OutcomeSuccess,
		ExitCode:      res.ExitCode,
		ElapsedMs:     res.Elapsed.Milliseconds(),
		CellArea:      s.Metrics.CellArea,
		CoreUtil:      s.Metrics.CoreUtilization,
		InstanceCount: s.Metrics.InstanceCount,
	}
	if runErr != nil {
		run.Outcome = db.OutcomeFail
		run.Error = runErr.Error()
	}
	if err := e.recorder.RecordStageRun(run); err != nil {
		e.logf("warning: recording %s run: %v", res.Stage, err)
	}
}
