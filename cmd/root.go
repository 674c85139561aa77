package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/scagg/api"
	"github.com/agentic-research/scagg/internal/logging"
)

// version is overridden at link time.
var version = "dev"

var (
	configPath string
	logLevel   string
	logFormat  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to job file (.hcl, .yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log encoding (console or json)")
}

var rootCmd = &cobra.Command{
	Use:           "scagg",
	Short:         "scagg: supply curve aggregation over exclusion rasters and generation sites",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// logOptions resolves the log settings. Flags win over the job file, and
// the result is stored back on job so chunk workers inherit it.
func logOptions(cmd *cobra.Command, job *api.Job) *api.LogOptions {
	opts := &api.LogOptions{}
	if job != nil && job.Log != nil {
		*opts = *job.Log
	}
	if cmd.Flags().Changed("log-level") {
		opts.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		opts.Format = logFormat
	}
	if job != nil {
		job.Log = opts
	}
	return opts
}

func newLogger(cmd *cobra.Command, job *api.Job) (*zap.Logger, error) {
	return logging.New(logOptions(cmd, job))
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
