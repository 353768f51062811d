package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Emin017/RTL2GDS/internal/step"
)

var signoffCmd = &cobra.Command{
	Use:       "signoff [sta|drc]",
	Short:     "Run static timing analysis or a design rule check on a finished design",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(step.STA), string(step.DRC)},
	RunE: func(cmd *cobra.Command, args []string) error {
		id := step.ID(strings.ToLower(args[0]))
		if id != step.STA && id != step.DRC {
			return fmt.Errorf("unknown signoff check %q: want sta or drc", args[0])
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
		_, engine, cleanup, err := newDriver(cmd, cfg, !noHistory)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := engine.RunAux(cmd.Context(), state, id, nil)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		names := make([]string, 0, len(res.Artifacts))
		for name := range res.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%s: %s\n", name, res.Artifacts[name])
		}
		fmt.Fprintf(w, "log: %s\n", res.Log)
		return nil
	},
}

func init() {
	addDesignFlag(signoffCmd)
	signoffCmd.Flags().Bool("no-history", false, "do not record this run in the history database")
}
