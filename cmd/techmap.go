package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/scagg/internal/techmap"
)

var (
	techmapMaxDistance float64
	techmapForce       bool
)

func init() {
	techmapCmd.Flags().Float64Var(&techmapMaxDistance, "max-distance-km", 0, "Search radius (0 = unbounded)")
	techmapCmd.Flags().BoolVar(&techmapForce, "force", false, "Rebuild even if the tech-map exists")
	rootCmd.AddCommand(techmapCmd)
}

var techmapCmd = &cobra.Command{
	Use:   "techmap [exclusion.db] [generation.db] [techmap.db]",
	Short: "Build the pixel to generation site tech-map",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		excl, gen, out := args[0], args[1], args[2]
		log, err := newLogger(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		log = log.Named("techmap")

		builder := &techmap.NearestBuilder{MaxDistanceKm: techmapMaxDistance, Log: log}
		start := time.Now()
		if techmapForce {
			if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove existing tech-map: %w", err)
			}
		}
		r := &techmap.Resolver{FS: osfs.Default, Builder: builder, Log: log}
		built, err := r.Ensure(cmd.Context(), excl, gen, out)
		if err != nil {
			return err
		}
		if !built {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, use --force to rebuild\n", out)
			return nil
		}
		log.Info("done", zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}
