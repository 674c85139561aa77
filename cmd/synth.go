package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/scagg/internal/synth"
)

var synthOpts synth.Options

func init() {
	f := synthCmd.Flags()
	f.IntVar(&synthOpts.Rows, "rows", 0, "Raster rows (default 640)")
	f.IntVar(&synthOpts.Cols, "cols", 0, "Raster columns (default 640)")
	f.Float64Var(&synthOpts.PixelSize, "pixel-size", 0, "Pixel size in degrees (default 0.0009)")
	f.IntVar(&synthOpts.SiteStride, "site-stride", 0, "Pixels between generation sites (default 32)")
	f.Float64Var(&synthOpts.ExcludedFraction, "excluded", 0.2, "Fraction of pixels excluded at random")
	f.Int64Var(&synthOpts.Seed, "seed", 1, "Random seed")
	rootCmd.AddCommand(synthCmd)
}

var synthCmd = &cobra.Command{
	Use:   "synth [dir]",
	Short: "Write a synthetic exclusion and generation dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := synth.Write(args[0], synthOpts)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "exclusion:  %s\n", ds.Exclusion)
		fmt.Fprintf(w, "generation: %s (%d sites)\n", ds.Generation, ds.Sites)
		return nil
	},
}
