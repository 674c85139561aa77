// Package logging builds the zap loggers handed to every component.
//
// There is no package-level logger: main constructs one with New and passes
// it (or a Named child) down through constructors.
package logging

import (
	"fmt"
	"strings"

	"github.com/agentic-research/scagg/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger writing to stderr.
// Level defaults to info, format to console.
func New(opts *api.LogOptions) (*zap.Logger, error) {
	level := "info"
	format := "console"
	if opts != nil {
		if opts.Level != "" {
			level = opts.Level
		}
		if opts.Format != "" {
			format = opts.Format
		}
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
