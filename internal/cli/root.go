package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var toolsConfig string

var rootCmd = &cobra.Command{
	Use:   "rtl2gds",
	Short: "rtl2gds drives an RTL design through synthesis to GDS",
	Long: `rtl2gds runs a Verilog design through the open-source ASIC flow:
synthesis, floorplan, netlist optimisation, placement, clock tree synthesis,
legalization, routing and filler insertion, exporting GDS along the way.

Each stage checkpoints the design state to {result_dir}/rtl2gds_{top}.yaml so
a flow can be resumed or driven one stage at a time. Run history is kept in
~/.rtl2gds/history.db unless configured otherwise.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&toolsConfig, "tools-config", "", "path to the tool installation config (default: search $RTL2GDS_CONFIG, ./rtl2gds.yaml, ~/.rtl2gds/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(signoffCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}
