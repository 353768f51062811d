package db

import (
	"database/sql"
	"fmt"
)

// Stage run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFail    = "fail"
)

// Pipeline event names.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventStageComplete = "stage_completed"
	EventStageFailed   = "stage_failed"
	EventLayoutExport  = "layout_exported"
	EventLayoutSplit   = "layout_split"
)

// StageRun represents a row in the stage_runs table.
type StageRun struct {
	ID            int64
	RunID         string
	TopName       string
	Stage         string
	Outcome       string
	ExitCode      int
	ElapsedMs     int64
	CellArea      float64
	CoreUtil      float64
	InstanceCount int
	Error         string
	Timestamp     string
}

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int64
	RunID     string
	TopName   string
	Event     string
	Stage     string
	Detail    string
	Timestamp string
}

// RunSummary aggregates the stage runs of one design run.
type RunSummary struct {
	RunID     string
	TopName   string
	Stages    int
	Failures  int
	LastStage string
	LastSeen  string
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RecordStageRun inserts a stage run. An empty Timestamp is filled with now.
func (d *DB) RecordStageRun(r *StageRun) error {
	if r.Timestamp == "" {
		r.Timestamp = d.stamp()
	}
	_, err := d.exec(
		`INSERT INTO stage_runs (run_id, top_name, stage, outcome, exit_code, elapsed_ms, cell_area, core_util, instance_count, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TopName, r.Stage, r.Outcome, r.ExitCode, r.ElapsedMs, r.CellArea, r.CoreUtil, r.InstanceCount, nullString(r.Error), r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record stage run: %w", err)
	}
	return nil
}

// LogPipelineEvent inserts a driver event.
func (d *DB) LogPipelineEvent(runID, topName, event, stage, detail string) error {
	_, err := d.exec(
		`INSERT INTO pipeline_events (run_id, top_name, event, stage, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, topName, event, nullString(stage), nullString(detail), d.stamp(),
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// ListStageRuns returns stage runs newest first. An empty runID lists every
// run; limit <= 0 means no limit.
func (d *DB) ListStageRuns(runID string, limit int) ([]StageRun, error) {
	q := `SELECT id, run_id, top_name, stage, outcome, exit_code, elapsed_ms, cell_area, core_util, instance_count, error, timestamp
	      FROM stage_runs`
	var args []any
	if runID != "" {
		q += " WHERE run_id = ?"
		args = append(args, runID)
	}
	q += " ORDER BY id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var r StageRun
		var cellArea, coreUtil sql.NullFloat64
		var instances sql.NullInt64
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.RunID, &r.TopName, &r.Stage, &r.Outcome, &r.ExitCode, &r.ElapsedMs,
			&cellArea, &coreUtil, &instances, &errText, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		r.CellArea = cellArea.Float64
		r.CoreUtil = coreUtil.Float64
		r.InstanceCount = int(instances.Int64)
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetPipelineEvents returns the events of one run in the order they were logged.
func (d *DB) GetPipelineEvents(runID string) ([]PipelineEvent, error) {
	rows, err := d.query(
		`SELECT id, run_id, top_name, event, stage, detail, timestamp
		 FROM pipeline_events WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get pipeline events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.TopName, &e.Event, &stage, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.Stage = stage.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListRuns summarises design runs, most recently active first.
func (d *DB) ListRuns(limit int) ([]RunSummary, error) {
	q := `SELECT r.run_id, r.top_name, COUNT(*),
	             SUM(CASE WHEN r.outcome = 'fail' THEN 1 ELSE 0 END),
	             MAX(r.timestamp),
	             (SELECT s.stage FROM stage_runs s WHERE s.run_id = r.run_id ORDER BY s.id DESC LIMIT 1)
	      FROM stage_runs r
	      GROUP BY r.run_id, r.top_name
	      ORDER BY MAX(r.id) DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.TopName, &s.Stages, &s.Failures, &s.LastSeen, &s.LastStage); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
