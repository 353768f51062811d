package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Emin017/RTL2GDS/internal/analytics"
	"github.com/Emin017/RTL2GDS/internal/db"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded design runs and stage statistics",
	Long: `Without flags, lists recent design runs. --run shows the stage runs and
pipeline events of one run. --durations shows per-stage duration
percentiles and failure rates. 'history reset --yes' clears the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.History.Disabled {
			return fmt.Errorf("run history is disabled in %s", sourceName(cfg))
		}
		d, cleanup, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		return showHistory(cmd, d)
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all recorded runs (destructive!)",
	Long:  `Drops the run-history tables and re-creates an empty schema. Requires --yes.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("history reset deletes every recorded run; pass --yes to confirm")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.History.Disabled {
			return fmt.Errorf("run history is disabled in %s", sourceName(cfg))
		}
		d, cleanup, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return fmt.Errorf("reset run history: %w", err)
		}
		backend := "SQLite"
		if d.Postgres() {
			backend = "PostgreSQL"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run history reset (%s).\n", backend)
		return nil
	},
}

func showHistory(cmd *cobra.Command, d *db.DB) error {
	runID, _ := cmd.Flags().GetString("run")
	durations, _ := cmd.Flags().GetBool("durations")
	since, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON := false
	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		asJSON = true
	}
	w := cmd.OutOrStdout()

	switch {
	case durations:
		stats, err := analytics.QueryStageDurations(d, since)
		if err != nil {
			return err
		}
		rates, err := analytics.QueryStageFailureRates(d, since)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(w, map[string]any{"durations": stats, "failure_rates": rates})
		}
		return printDurations(w, stats, rates)

	case runID != "":
		runs, err := d.ListStageRuns(runID, limit)
		if err != nil {
			return err
		}
		events, err := d.GetPipelineEvents(runID)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(w, map[string]any{"stage_runs": runs, "events": events})
		}
		if len(runs) == 0 && len(events) == 0 {
			fmt.Fprintf(w, "No history for run %s.\n", runID)
			return nil
		}
		return printRun(w, runs, events)

	default:
		runs, err := d.ListRuns(limit)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(w, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tTOP\tSTAGES\tFAILED\tLAST STAGE\tLAST SEEN")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", r.RunID, r.TopName, r.Stages, r.Failures, r.LastStage, r.LastSeen)
		}
		return tw.Flush()
	}
}

func printRun(w io.Writer, runs []db.StageRun, events []db.PipelineEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTAGE\tOUTCOME\tEXIT\tSECONDS\tCELL AREA\tERROR")
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		msg := r.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1f\t%.2f\t%s\n",
			r.Timestamp, r.Stage, styleOutcome(r.Outcome), r.ExitCode, float64(r.ElapsedMs)/1000, r.CellArea, msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tSTAGE\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp, e.Event, e.Stage, e.Detail)
	}
	return tw.Flush()
}

func printDurations(w io.Writer, stats []analytics.StageDuration, rates []analytics.StageFailureRate) error {
	if len(stats) == 0 && len(rates) == 0 {
		fmt.Fprintln(w, "No stage runs recorded.")
		return nil
	}
	failPct := make(map[string]float64, len(rates))
	for _, r := range rates {
		failPct[r.Stage] = r.FailPct
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tRUNS\tAVG\tP50\tP95\tMAX\tFAIL %")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%.1fs\t%.1fs\t%.1fs\t%.1fs\t%.1f\n", s.Stage, s.Count, s.Avg, s.P50, s.P95, s.Max, failPct[s.Stage])
	}
	return tw.Flush()
}

func styleOutcome(outcome string) string {
	if outcome == db.OutcomeSuccess {
		return styleDone.Render(outcome)
	}
	return styleNext.Render(outcome)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func init() {
	historyCmd.Flags().String("run", "", "show the stage runs and events of one run")
	historyCmd.Flags().Bool("durations", false, "show per-stage duration statistics")
	historyCmd.Flags().String("since", "", "only include runs at or after this UTC time (YYYY-MM-DD HH:MM:SS)")
	historyCmd.Flags().Int("limit", 20, "maximum rows to list (0 = all)")
	historyCmd.Flags().String("format", "text", "Output format: text or json")

	historyResetCmd.Flags().Bool("yes", false, "confirm deleting all run history")
	historyCmd.AddCommand(historyResetCmd)
}
