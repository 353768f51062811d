package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Emin017/RTL2GDS/internal/layoutjson"
)

var splitCmd = &cobra.Command{
	Use:   "split [layout.json]",
	Short: "Split a layout JSON dump into a header and size-bounded chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := layoutjson.Options{}
		if cmd.Flags().Changed("max-bytes") {
			opts.MaxBytes, _ = cmd.Flags().GetInt64("max-bytes")
		} else if legacy, _ := cmd.Flags().GetBool("legacy"); legacy {
			opts.MaxBytes = layoutjson.LegacyMaxBytes
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts.MaxBytes = cfg.Chunk.MaxBytes
			opts.Workers = cfg.Chunk.Workers
		}
		if cmd.Flags().Changed("workers") {
			opts.Workers, _ = cmd.Flags().GetInt("workers")
		}
		if opts.MaxBytes <= 0 {
			return fmt.Errorf("--max-bytes must be positive")
		}

		out, err := layoutjson.Split(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, out.Header)
		for _, c := range out.Chunks {
			fmt.Fprintln(w, c)
		}
		return nil
	},
}

func init() {
	splitCmd.Flags().Int64("max-bytes", layoutjson.DefaultMaxBytes, "maximum size in bytes of each chunk file")
	splitCmd.Flags().Bool("legacy", false, "use the legacy 49 MiB chunk size")
	splitCmd.Flags().Int("workers", 0, "concurrent chunk writers (default: CPU count)")
}
