package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Emin017/RTL2GDS/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every remaining stage of a design to GDS",
	Long: `Runs the design from its finished stage through filler insertion,
exporting GDS after floorplan and every layout-changing stage. Stops at the
first failing stage; the last checkpoint can be resumed with another run.

Writes {result_dir}/evaluation/{top}_execution_time_{ts}.json and
{result_dir}/evaluation/final_metrics.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		state, err := loadDesign(cmd)
		if err != nil {
			return err
		}
		noHistory, _ := cmd.Flags().GetBool("no-history")
		driver, _, cleanup, err := newDriver(cmd, cfg, !noHistory)
		if err != nil {
			return err
		}
		defer cleanup()

		var opts orchestrator.Options
		opts.Snapshot, _ = cmd.Flags().GetBool("snapshot")
		opts.LayoutJSON, _ = cmd.Flags().GetBool("layout-json")
		opts.Signoff, _ = cmd.Flags().GetBool("signoff")

		timings, runErr := driver.RunAll(cmd.Context(), state, opts)

		timingPath, err := orchestrator.WriteTimings(state.ResultDir, state.TopName, timings)
		if err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		metricsPath, err := orchestrator.WriteFinalMetrics(state, timings)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "GDS:      %s\n", state.GdsPath)
		fmt.Fprintf(w, "Metrics:  %s\n", metricsPath)
		fmt.Fprintf(w, "Timings:  %s\n", timingPath)
		fmt.Fprintf(w, "Run ID:   %s\n", state.RunID)
		return nil
	},
}

func init() {
	addDesignFlag(runCmd)
	runCmd.Flags().Bool("snapshot", false, "render a layout image after placement and filler")
	runCmd.Flags().Bool("layout-json", false, "dump and split layout JSON after layout-changing stages")
	runCmd.Flags().Bool("signoff", false, "run static timing analysis after the flow")
	runCmd.Flags().Bool("no-history", false, "do not record this run in the history database")
}
