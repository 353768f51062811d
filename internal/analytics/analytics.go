// Package analytics summarises the run history.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/Emin017/RTL2GDS/internal/step"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// StageDuration holds duration stats for a stage, in seconds.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
	Max   float64 `json:"max_seconds"`
}

// StageFailureRate holds outcome counts for a stage.
type StageFailureRate struct {
	Stage    string  `json:"stage"`
	Total    int     `json:"total"`
	Failures int     `json:"failures"`
	FailPct  float64 `json:"fail_pct"`
}

// QueryStageDurations returns duration statistics per stage over successful
// runs recorded at or after since ("" for all time). Stages come back in
// flow order, auxiliary tools last.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `SELECT stage, elapsed_ms FROM stage_runs WHERE outcome = 'success'`
	var args []any
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var ms int64
		if err := rows.Scan(&stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		durations[stage] = append(durations[stage], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]StageDuration, 0, len(durations))
	for stage, d := range durations {
		sort.Float64s(d)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(d),
			Avg:   avg(d),
			P50:   percentile(d, 50),
			P95:   percentile(d, 95),
			Max:   round1(d[len(d)-1]),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return stageLess(results[i].Stage, results[j].Stage)
	})
	return results, nil
}

// QueryStageFailureRates returns success/failure counts per stage.
func QueryStageFailureRates(database DB, since string) ([]StageFailureRate, error) {
	query := `
		SELECT stage,
			COUNT(*) as total,
			SUM(CASE WHEN outcome = 'fail' THEN 1 ELSE 0 END) as failures
		FROM stage_runs`
	var args []any
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage failure rates: %w", err)
	}
	defer rows.Close()

	var results []StageFailureRate
	for rows.Next() {
		var r StageFailureRate
		if err := rows.Scan(&r.Stage, &r.Total, &r.Failures); err != nil {
			return nil, fmt.Errorf("scan failure rate: %w", err)
		}
		r.FailPct = pct(r.Failures, r.Total)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		return stageLess(results[i].Stage, results[j].Stage)
	})
	return results, nil
}

// stageLess orders flow stages by position, then everything else by name.
func stageLess(a, b string) bool {
	ia, ib := position(a), position(b)
	if ia != ib {
		return ia < ib
	}
	return a < b
}

func position(stage string) int {
	for i, id := range step.Order() {
		if string(id) == stage {
			return i
		}
	}
	return len(step.Order())
}

// --- helpers ---

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return round1(sum / float64(len(values)))
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return round1(sorted[lower])
	}
	weight := rank - float64(lower)
	return round1(sorted[lower]*(1-weight) + sorted[upper]*weight)
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
