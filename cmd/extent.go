package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/scagg/internal/extent"
)

var (
	extentResolution int
	extentGIDs       []int
)

func init() {
	extentCmd.Flags().IntVarP(&extentResolution, "resolution", "r", extent.DefaultResolution, "Cell size in exclusion pixels")
	extentCmd.Flags().IntSliceVar(&extentGIDs, "gid", nil, "Print the pixel window of these gids")
	rootCmd.AddCommand(extentCmd)
}

var extentCmd = &cobra.Command{
	Use:   "extent [exclusion.db]",
	Short: "Print the supply curve grid for an exclusion raster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, err := extent.Open(args[0], extentResolution)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		shape := ext.Shape()
		fmt.Fprintf(w, "raster:     %d x %d pixels\n", shape.Rows, shape.Cols)
		fmt.Fprintf(w, "resolution: %d\n", ext.Resolution())
		fmt.Fprintf(w, "grid:       %d x %d cells (%d gids)\n", ext.Rows(), ext.Cols(), ext.Len())
		for _, gid := range extentGIDs {
			win, err := ext.Window(gid)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "gid %d: rows [%d, %d) cols [%d, %d)\n", gid, win.RowStart, win.RowEnd, win.ColStart, win.ColEnd)
		}
		return nil
	},
}
