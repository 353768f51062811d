package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Emin017/RTL2GDS/internal/orchestrator"
	"github.com/Emin017/RTL2GDS/internal/step"
)

var stepCmd = &cobra.Command{
	Use:   "step [stage]",
	Short: "Run a single stage of a design",
	Long: `Runs exactly one stage against a checkpoint and returns. The stage
must be the one the checkpoint expects next (see 'rtl2gds next').`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := step.Parse(args[0])
		if err != nil {
			return err
		}
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

		out, err := driver.RunStep(cmd.Context(), state, id, opts)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Finished:   %s (%.1fs)\n", state.FinishedStage, out.Result.Elapsed.Seconds())
		fmt.Fprintf(w, "Checkpoint: %s\n", out.Result.Checkpoint)
		if out.GDS != "" {
			fmt.Fprintf(w, "GDS:        %s\n", out.GDS)
		}
		if out.Layout != nil {
			fmt.Fprintf(w, "Layout:     %s (+%d chunks)\n", out.Layout.Header, len(out.Layout.Chunks))
		}
		fmt.Fprintf(w, "Next:       %s\n", nextStage(state.ExpectedStage()))
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the stage a design expects next",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := loadDesign(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), nextStage(state.ExpectedStage()))
		return nil
	},
}

func nextStage(id step.ID) string {
	if id == "" {
		return "none"
	}
	return string(id)
}

func init() {
	addDesignFlag(stepCmd)
	stepCmd.Flags().Bool("snapshot", false, "render a layout image after placement and filler")
	stepCmd.Flags().Bool("layout-json", false, "dump and split layout JSON after a layout-changing stage")
	stepCmd.Flags().Bool("no-history", false, "do not record this run in the history database")

	addDesignFlag(nextCmd)
}
