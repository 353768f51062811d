package stage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Emin017/RTL2GDS/internal/config"
	"github.com/Emin017/RTL2GDS/internal/db"
	"github.com/Emin017/RTL2GDS/internal/geometry"
	"github.com/Emin017/RTL2GDS/internal/pipeline"
	"github.com/Emin017/RTL2GDS/internal/step"
	"github.com/Emin017/RTL2GDS/internal/tool"
)

// --- Mock CommandRunner ---

// fileOutputs are the env keys a fake tool materialises as files.
var fileOutputs = []string{
	"OUTPUT_DEF", "OUTPUT_VERILOG", "NETLIST_FILE", "DESIGN_STAT_TEXT", "TOOL_METRICS_JSON",
	"GDS_FILE", "LAYOUT_JSON_FILE", "SNAPSHOT_FILE", "DRC_REPORT_DB",
}

const placementReport = `{
  "Design Layout": {"die_usage": 0.40, "core_usage": 0.62},
  "Instances": {"total": {"area": 55000}},
  "Design Statis": {"num_instances": 1200}
}`

// mockTool stands in for every EDA binary. argv[1] carries the stage id.
type mockTool struct {
	reports  map[string]string // stage → DESIGN_STAT_JSON content
	exitCode int
	err      error
	skip     map[string]bool // env keys not to create
	calls    []tool.Invocation
}

func (m *mockTool) Run(ctx context.Context, inv tool.Invocation) (int, error) {
	m.calls = append(m.calls, inv)
	fmt.Fprintf(inv.Stdout, "running %s\n", strings.Join(inv.Argv, " "))
	if m.err != nil {
		return -1, m.err
	}
	if m.exitCode != 0 {
		return m.exitCode, nil
	}
	stage := inv.Argv[1]
	for _, key := range fileOutputs {
		if p, ok := inv.Env[key]; ok && !m.skip[key] {
			if err := os.WriteFile(p, []byte(stage+"\n"), 0o644); err != nil {
				return -1, err
			}
		}
	}
	if p, ok := inv.Env["TOOL_REPORT_DIR"]; ok && !m.skip["TOOL_REPORT_DIR"] {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return -1, err
		}
	}
	if p, ok := inv.Env["DESIGN_STAT_JSON"]; ok && !m.skip["DESIGN_STAT_JSON"] {
		report, ok := m.reports[stage]
		if !ok {
			report = placementReport
		}
		if err := os.WriteFile(p, []byte(report), 0o644); err != nil {
			return -1, err
		}
	}
	return 0, nil
}

func (m *mockTool) lastEnv() map[string]string {
	return m.calls[len(m.calls)-1].Env
}

type mockRecorder struct {
	runs []db.StageRun
}

func (m *mockRecorder) RecordStageRun(r *db.StageRun) error {
	m.runs = append(m.runs, *r)
	return nil
}

// setupEngine routes every stage to the mock tool.
func setupEngine(t *testing.T, mt *mockTool) *Engine {
	t.Helper()
	overrides := map[step.ID][]string{}
	for _, id := range append(step.Order()[1:], step.LayoutGDS, step.LayoutJSON, step.Snapshot, step.STA, step.DRC) {
		overrides[id] = []string{"fake-eda", "{stageId}"}
	}
	cat, err := step.NewCatalog(overrides)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return NewEngine(cat, mt, config.Default())
}

func newState(t *testing.T, finished step.ID) *pipeline.DesignState {
	t.Helper()
	rd := t.TempDir()
	def := filepath.Join(rd, "gcd_"+string(finished)+".def")
	if err := os.WriteFile(def, []byte("DESIGN gcd ;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &pipeline.DesignState{
		RunID:       "run-1",
		TopName:     "gcd",
		RTLSources:  []string{"gcd.v"},
		NetlistPath: filepath.Join(rd, "gcd_nl.v"),
		DefPath:     def,
		GdsPath:     filepath.Join(rd, "gcd.gds"),
		ResultDir:   rd,
		Constraint: pipeline.Constraint{
			ClockPortName:   "clk",
			ClockFreqMHz:    100,
			CoreUtilization: 0.5,
		},
		FinishedStage: finished,
	}
}

func TestRunPlacement(t *testing.T) {
	mt := &mockTool{}
	e := setupEngine(t, mt)
	s := newState(t, step.NetlistOpt)
	inputDef := s.DefPath

	res, err := e.Run(context.Background(), s, step.Placement)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.FinishedStage != step.Placement || s.ExpectedStage() != step.CTS {
		t.Errorf("progress = %s/%s, want placement/cts", s.FinishedStage, s.ExpectedStage())
	}
	if s.Metrics.CellArea != 55000 || s.Metrics.InstanceCount != 1200 {
		t.Errorf("Metrics = %+v", s.Metrics)
	}
	if s.Metrics.CoreUtilization != 0.62 || s.Metrics.DieUtilization != 0.40 {
		t.Errorf("utilization = %v/%v", s.Metrics.CoreUtilization, s.Metrics.DieUtilization)
	}
	if res.Metrics != s.Metrics {
		t.Errorf("Result.Metrics = %+v", res.Metrics)
	}

	wantDef := filepath.Join(s.ResultDir, "gcd_placement.def")
	if s.DefPath != wantDef {
		t.Errorf("DefPath = %q, want %q", s.DefPath, wantDef)
	}
	env := mt.lastEnv()
	if env["INPUT_DEF"] != inputDef || env["OUTPUT_DEF"] != wantDef {
		t.Errorf("INPUT_DEF=%q OUTPUT_DEF=%q", env["INPUT_DEF"], env["OUTPUT_DEF"])
	}
	if env["TOOL_METRICS_JSON"] != filepath.Join(s.ResultDir, "metrics", "iEDA-iPL_placement.json") {
		t.Errorf("TOOL_METRICS_JSON = %q", env["TOOL_METRICS_JSON"])
	}
	if env["RUST_BACKTRACE"] != "1" {
		t.Error("toolchain env not applied")
	}

	loaded, err := pipeline.Load(res.Checkpoint)
	if err != nil {
		t.Fatalf("Load checkpoint: %v", err)
	}
	if loaded.FinishedStage != step.Placement || loaded.Metrics.CellArea != 55000 {
		t.Errorf("checkpoint state = %s %+v", loaded.FinishedStage, loaded.Metrics)
	}
	if _, err := os.Stat(filepath.Join(s.ResultDir, "rtl2gds_gcd.yaml")); err != nil {
		t.Errorf("overwriting checkpoint missing: %v", err)
	}

	logData, err := os.ReadFile(res.Log)
	if err != nil {
		t.Fatalf("read tool log: %v", err)
	}
	if !strings.Contains(string(logData), "running fake-eda placement") {
		t.Errorf("log = %q", logData)
	}
}

func TestRunOutOfOrder(t *testing.T) {
	mt := &mockTool{}
	e := setupEngine(t, mt)
	s := newState(t, step.NetlistOpt)

	_, err := e.Run(context.Background(), s, step.Routing)
	var se *step.SequenceError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *step.SequenceError", err)
	}
	if se.Expected != step.Placement {
		t.Errorf("Expected = %s", se.Expected)
	}
	if len(mt.calls) != 0 {
		t.Error("tool should not run for an illegal stage")
	}
}

func TestRunToolFailure(t *testing.T) {
	mt := &mockTool{exitCode: 2}
	rec := &mockRecorder{}
	e := setupEngine(t, mt)
	e.SetRecorder(rec)
	s := newState(t, step.NetlistOpt)
	before := s.Clone()

	_, err := e.Run(context.Background(), s, step.Placement)
	var te *ToolExecutionError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *ToolExecutionError", err)
	}
	if te.Stage != step.Placement || te.ExitCode != 2 {
		t.Errorf("error = %+v", te)
	}
	if s.FinishedStage != before.FinishedStage || s.DefPath != before.DefPath {
		t.Error("state changed after a failed stage")
	}
	if len(rec.runs) != 1 || rec.runs[0].Outcome != db.OutcomeFail || rec.runs[0].ExitCode != 2 {
		t.Errorf("recorded = %+v", rec.runs)
	}
}

func TestRunExecError(t *testing.T) {
	mt := &mockTool{err: errors.New("exec: \"iEDA\": executable file not found")}
	e := setupEngine(t, mt)
	s := newState(t, step.NetlistOpt)

	_, err := e.Run(context.Background(), s, step.Placement)
	if err == nil || !strings.Contains(err.Error(), "executable file not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunMissingArtifact(t *testing.T) {
	mt := &mockTool{skip: map[string]bool{"OUTPUT_DEF": true}}
	e := setupEngine(t, mt)
	s := newState(t, step.NetlistOpt)

	_, err := e.Run(context.Background(), s, step.Placement)
	var me *MissingArtifactError
	if !errors.As(err, &me) {
		t.Fatalf("got %v, want *MissingArtifactError", err)
	}
	if me.Artifact != "def" || me.Stage != step.Placement {
		t.Errorf("error = %+v", me)
	}
	if s.FinishedStage != step.NetlistOpt {
		t.Error("state advanced despite missing artifact")
	}
}

func TestRunMissingReportDir(t *testing.T) {
	mt := &mockTool{skip: map[string]bool{"TOOL_REPORT_DIR": true}}
	e := setupEngine(t, mt)
	s := newState(t, step.NetlistOpt)

	_, err := e.Run(context.Background(), s, step.Placement)
	var me *MissingArtifactError
	if !errors.As(err, &me) || me.Artifact != "tool_report_dir" {
		t.Fatalf("got %v, want missing tool_report_dir", err)
	}
}

func TestRunBadReport(t *testing.T) {
	mt := &mockTool{reports: map[string]string{"placement": `{"Design Layout": {}}`}}
	e := setupEngine(t, mt)
	s := newState(t, step.NetlistOpt)

	if _, err := e.Run(context.Background(), s, step.Placement); err == nil {
		t.Fatal("expected report parse error")
	}
	if s.FinishedStage != step.NetlistOpt {
		t.Error("state advanced despite bad report")
	}
}

func TestRunSynthesisDerivesGeometry(t *testing.T) {
	mt := &mockTool{reports: map[string]string{
		"synthesis": `{"design": {"num_cells": 310, "area": 40000}}`,
	}}
	e := setupEngine(t, mt)
	s := newState(t, step.Init)

	if _, err := e.Run(context.Background(), s, step.Synthesis); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := s.Constraint
	if c.DieBox == nil || c.CoreBox == nil {
		t.Fatal("boxes not derived")
	}
	if math.Abs(c.DieBox.URX-302.84) > 0.01 || math.Abs(c.CoreBox.LLX-10) > 1e-9 || math.Abs(c.CoreBox.URY-292.84) > 0.01 {
		t.Errorf("die %v core %v", *c.DieBox, *c.CoreBox)
	}
	if c.CoreUtilization != 0.5 {
		t.Errorf("CoreUtilization = %v", c.CoreUtilization)
	}
	if s.Metrics.CellArea != 40000 || s.Metrics.InstanceCount != 310 {
		t.Errorf("Metrics = %+v", s.Metrics)
	}
	if math.Abs(s.Metrics.DieArea-c.DieBox.Area()) > 1e-9 {
		t.Errorf("DieArea = %v", s.Metrics.DieArea)
	}
	if s.ExpectedStage() != step.Floorplan {
		t.Errorf("ExpectedStage = %s", s.ExpectedStage())
	}

	env := mt.lastEnv()
	if env["RTL_FILE"] != "gcd.v" || env["CORE_UTIL"] != "0.5" {
		t.Errorf("RTL_FILE=%q CORE_UTIL=%q", env["RTL_FILE"], env["CORE_UTIL"])
	}
	if env["SDC_FILE"] == "" {
		t.Error("SDC_FILE should default from the tool config")
	}
	if env["DESIGN_STAT_JSON"] != filepath.Join(s.ResultDir, "report", "synth_stat.json") {
		t.Errorf("DESIGN_STAT_JSON = %q", env["DESIGN_STAT_JSON"])
	}
}

func TestRunSynthesisConstraintErrors(t *testing.T) {
	t.Run("cell area ceiling", func(t *testing.T) {
		mt := &mockTool{reports: map[string]string{"synthesis": `{"design": {"num_cells": 9, "area": 2000000}}`}}
		e := setupEngine(t, mt)
		s := newState(t, step.Init)
		_, err := e.Run(context.Background(), s, step.Synthesis)
		var ce *geometry.CellAreaExceededError
		if !errors.As(err, &ce) {
			t.Fatalf("got %v, want *CellAreaExceededError", err)
		}
		if s.FinishedStage != step.Init || s.Constraint.DieBox != nil {
			t.Error("state changed after constraint failure")
		}
	})

	t.Run("neither boxes nor utilization", func(t *testing.T) {
		mt := &mockTool{reports: map[string]string{"synthesis": `{"design": {"num_cells": 9, "area": 400}}`}}
		e := setupEngine(t, mt)
		s := newState(t, step.Init)
		s.Constraint.CoreUtilization = 0
		_, err := e.Run(context.Background(), s, step.Synthesis)
		var ce *geometry.ConstraintError
		if !errors.As(err, &ce) {
			t.Fatalf("got %v, want *ConstraintError", err)
		}
	})

	t.Run("explicit boxes", func(t *testing.T) {
		mt := &mockTool{reports: map[string]string{"synthesis": `{"design": {"num_cells": 9, "area": 5000}}`}}
		e := setupEngine(t, mt)
		s := newState(t, step.Init)
		die := geometry.Rect{URX: 120, URY: 120}
		core := geometry.Rect{LLX: 10, LLY: 10, URX: 110, URY: 110}
		s.Constraint.CoreUtilization = 0
		s.Constraint.DieBox, s.Constraint.CoreBox = &die, &core
		if _, err := e.Run(context.Background(), s, step.Synthesis); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if s.Constraint.CoreUtilization != 0.5 {
			t.Errorf("derived utilization = %v", s.Constraint.CoreUtilization)
		}
	})
}

func TestRunFloorplanRefinesBoxes(t *testing.T) {
	mt := &mockTool{reports: map[string]string{"floorplan": `{
  "Design Layout": {
    "die_usage": 0.3, "core_usage": 0.45,
    "die_bounding_width": 200, "die_bounding_height": 180,
    "core_bounding_width": 180, "core_bounding_height": 160
  },
  "Instances": {"total": {"area": 12960}},
  "Design Statis": {"num_instances": 500}
}`}}
	e := setupEngine(t, mt)
	s := newState(t, step.Synthesis)

	if _, err := e.Run(context.Background(), s, step.Floorplan); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := s.Constraint
	if *c.DieBox != (geometry.Rect{URX: 200, URY: 180}) {
		t.Errorf("DieBox = %v", *c.DieBox)
	}
	if *c.CoreBox != (geometry.Rect{LLX: 10, LLY: 10, URX: 190, URY: 170}) {
		t.Errorf("CoreBox = %v", *c.CoreBox)
	}
	if c.CoreUtilization != 0.45 {
		t.Errorf("CoreUtilization = %v", c.CoreUtilization)
	}
	if s.Metrics.DieArea != 36000 || s.Metrics.CoreArea != 28800 {
		t.Errorf("areas = %v/%v", s.Metrics.DieArea, s.Metrics.CoreArea)
	}
	if s.DefPath != filepath.Join(s.ResultDir, "gcd_floorplan.def") {
		t.Errorf("DefPath = %q", s.DefPath)
	}
}

func TestRunFloorplanIgnoresOutOfRangeUtilization(t *testing.T) {
	mt := &mockTool{reports: map[string]string{"floorplan": `{
  "Design Layout": {
    "die_usage": 1.2, "core_usage": 1.3,
    "die_bounding_width": 200, "die_bounding_height": 180,
    "core_bounding_width": 180, "core_bounding_height": 160
  },
  "Instances": {"total": {"area": 12960}},
  "Design Statis": {"num_instances": 500}
}`}}
	e := setupEngine(t, mt)
	s := newState(t, step.Synthesis)
	s.Metrics.CoreUtilization = 0.5

	if _, err := e.Run(context.Background(), s, step.Floorplan); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Constraint.CoreUtilization != 0.5 {
		t.Errorf("Constraint.CoreUtilization = %v", s.Constraint.CoreUtilization)
	}
	if s.Metrics.CoreUtilization != 0.5 || s.Metrics.DieUtilization != 0 {
		t.Errorf("Metrics utilization = %v/%v", s.Metrics.CoreUtilization, s.Metrics.DieUtilization)
	}
}

func TestRunRecordsSuccess(t *testing.T) {
	rec := &mockRecorder{}
	e := setupEngine(t, &mockTool{})
	e.SetRecorder(rec)
	s := newState(t, step.NetlistOpt)

	if _, err := e.Run(context.Background(), s, step.Placement); err != nil {
		t.Fatal(err)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs", len(rec.runs))
	}
	r := rec.runs[0]
	if r.Outcome != db.OutcomeSuccess || r.Stage != "placement" || r.RunID != "run-1" || r.CellArea != 55000 {
		t.Errorf("run = %+v", r)
	}
}

func TestRunProgress(t *testing.T) {
	var buf strings.Builder
	e := setupEngine(t, &mockTool{})
	e.SetProgress(&buf)
	s := newState(t, step.NetlistOpt)

	if _, err := e.Run(context.Background(), s, step.Placement); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "  → placement: Standard cell placement") {
		t.Errorf("progress missing header: %q", out)
	}
	if !strings.Contains(out, "running fake-eda placement") {
		t.Errorf("tool output not echoed: %q", out)
	}
	if !strings.Contains(out, "next: cts") {
		t.Errorf("progress missing next stage: %q", out)
	}
}

func TestRunAuxLayoutGDS(t *testing.T) {
	mt := &mockTool{}
	e := setupEngine(t, mt)
	s := newState(t, step.Placement)

	res, err := e.RunAux(context.Background(), s, step.LayoutGDS, nil)
	if err != nil {
		t.Fatalf("RunAux: %v", err)
	}
	want := filepath.Join(s.ResultDir, "gcd_placement.gds")
	if s.GdsPath != want {
		t.Errorf("GdsPath = %q, want %q", s.GdsPath, want)
	}
	if s.FinishedStage != step.Placement {
		t.Error("auxiliary tool advanced the flow")
	}
	if res.Checkpoint == "" {
		t.Error("layout_gds should checkpoint")
	}
	if mt.lastEnv()["GDS_FILE"] != want {
		t.Errorf("GDS_FILE = %q", mt.lastEnv()["GDS_FILE"])
	}
}

func TestRunAuxLogPerFinishedStage(t *testing.T) {
	e := setupEngine(t, &mockTool{})
	s := newState(t, step.Placement)

	first, err := e.RunAux(context.Background(), s, step.LayoutGDS, nil)
	if err != nil {
		t.Fatalf("RunAux at placement: %v", err)
	}
	s.FinishedStage = step.CTS
	second, err := e.RunAux(context.Background(), s, step.LayoutGDS, nil)
	if err != nil {
		t.Fatalf("RunAux at cts: %v", err)
	}

	logDir := filepath.Join(s.ResultDir, pipeline.LogDir)
	if first.Log != filepath.Join(logDir, "layout_gds_placement.log") {
		t.Errorf("first log = %q", first.Log)
	}
	if second.Log != filepath.Join(logDir, "layout_gds_cts.log") {
		t.Errorf("second log = %q", second.Log)
	}
	for _, p := range []string{first.Log, second.Log} {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if !strings.Contains(string(data), "running fake-eda layout_gds") {
			t.Errorf("%s = %q", p, data)
		}
	}
}

func TestRunAuxExtraEnv(t *testing.T) {
	mt := &mockTool{}
	e := setupEngine(t, mt)
	s := newState(t, step.Routing)

	if _, err := e.RunAux(context.Background(), s, step.LayoutJSON, map[string]string{"JSON_OPTION": "1"}); err != nil {
		t.Fatalf("RunAux: %v", err)
	}
	if mt.lastEnv()["JSON_OPTION"] != "1" {
		t.Error("extra env not passed")
	}
}

func TestRunAuxPrerequisites(t *testing.T) {
	e := setupEngine(t, &mockTool{})

	cases := []struct {
		finished step.ID
		id       step.ID
	}{
		{step.Init, step.LayoutGDS},
		{step.Synthesis, step.LayoutJSON},
		{step.Routing, step.STA},
		{step.Placement, step.DRC},
	}
	for _, tc := range cases {
		s := newState(t, tc.finished)
		_, err := e.RunAux(context.Background(), s, tc.id, nil)
		var pe *PrerequisiteError
		if !errors.As(err, &pe) {
			t.Errorf("%s at %s: got %v, want *PrerequisiteError", tc.id, tc.finished, err)
		}
	}

	if _, err := e.RunAux(context.Background(), newState(t, step.Filler), step.CTS, nil); err == nil {
		t.Error("RunAux should reject ordered stages")
	}
}

func TestRunAuxDRCNeedsGDS(t *testing.T) {
	e := setupEngine(t, &mockTool{})
	s := newState(t, step.Filler)

	_, err := e.RunAux(context.Background(), s, step.DRC, nil)
	var me *MissingArtifactError
	if !errors.As(err, &me) || me.Artifact != "gds_file" {
		t.Fatalf("got %v, want missing gds_file", err)
	}

	if err := os.WriteFile(s.GdsPath, []byte("gds"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunAux(context.Background(), s, step.DRC, nil); err != nil {
		t.Fatalf("DRC with GDS present: %v", err)
	}
}

// hangingTool blocks until its context ends.
type hangingTool struct{}

func (hangingTool) Run(ctx context.Context, inv tool.Invocation) (int, error) {
	<-ctx.Done()
	return -1, nil
}

func TestRunTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.StageTimeout = "20ms"
	e := NewEngine(step.DefaultCatalog(), hangingTool{}, cfg)
	s := newState(t, step.NetlistOpt)

	_, err := e.Run(context.Background(), s, step.Placement)
	if err == nil || !strings.Contains(err.Error(), "timed out after 20ms") {
		t.Fatalf("err = %v", err)
	}
	if s.FinishedStage != step.NetlistOpt {
		t.Error("state advanced after timeout")
	}
}
