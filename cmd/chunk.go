package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/scagg/internal/aggregate"
)

func init() {
	rootCmd.AddCommand(chunkCmd)
}

// chunkCmd is the child side of process isolation. It reads one chunk
// request on stdin and writes the result on stdout; logs go to stderr.
var chunkCmd = &cobra.Command{
	Use:    "chunk",
	Short:  "Summarize one chunk read from stdin",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return aggregate.ServeChunk(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), log.Named("chunk"))
	},
}
