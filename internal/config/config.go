// Package config loads job descriptions from HCL, YAML or JSON files.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/viper"

	"github.com/agentic-research/scagg/api"
)

// envPrefix is the environment variable prefix for job settings.
const envPrefix = "SCAGG"

// Defaults for unset job fields.
const (
	DefaultName       = "supply_curve"
	DefaultResolution = 64
	DefaultFormat     = "table"
	DefaultIsolation  = "goroutine"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
	DefaultOutDir     = "."
)

// newViper configures SCAGG_ environment overrides, so that a nested key
// like "log.level" resolves to SCAGG_LOG_LEVEL.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Keys must be known to viper for env lookups to apply on Unmarshal.
	v.SetDefault("name", DefaultName)
	v.SetDefault("exclusion_path", "")
	v.SetDefault("generation_path", "")
	v.SetDefault("techmap_path", "")
	v.SetDefault("resolution", DefaultResolution)
	v.SetDefault("workers", 0)
	v.SetDefault("format", DefaultFormat)
	v.SetDefault("isolation", DefaultIsolation)
	v.SetDefault("out_dir", DefaultOutDir)
	v.SetDefault("metrics_file", "")
	v.SetDefault("techmap.max_distance_km", 0.0)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	return v
}

// Load reads the job file at path. .hcl files are decoded natively;
// .yaml, .yml and .json go through viper and honour SCAGG_* overrides.
// The result has defaults applied and is validated.
func Load(path string) (*api.Job, error) {
	job := &api.Job{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl":
		if err := hclsimple.DecodeFile(path, nil, job); err != nil {
			return nil, fmt.Errorf("config: failed to decode %q: %w", path, err)
		}
	case ".yaml", ".yml", ".json":
		v := newViper()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
		}
		if err := v.Unmarshal(job); err != nil {
			return nil, fmt.Errorf("config: failed to unmarshal %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported job file extension %q", ext)
	}

	ApplyDefaults(job)
	if err := Validate(job); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return job, nil
}

// ApplyDefaults fills zero-valued fields of job.
func ApplyDefaults(job *api.Job) {
	if job.Name == "" {
		job.Name = DefaultName
	}
	if job.Resolution == 0 {
		job.Resolution = DefaultResolution
	}
	if job.Format == "" {
		job.Format = DefaultFormat
	}
	if job.Isolation == "" {
		job.Isolation = DefaultIsolation
	}
	if job.OutDir == "" {
		job.OutDir = DefaultOutDir
	}
	if job.TechMap == nil {
		job.TechMap = &api.TechMapOptions{}
	}
	if job.Log == nil {
		job.Log = &api.LogOptions{}
	}
	if job.Log.Level == "" {
		job.Log.Level = DefaultLogLevel
	}
	if job.Log.Format == "" {
		job.Log.Format = DefaultLogFormat
	}
}

// Validate checks a job after defaults have been applied.
func Validate(job *api.Job) error {
	var problems []string
	if job.ExclusionPath == "" {
		problems = append(problems, "exclusion_path is required")
	}
	if job.GenerationPath == "" {
		problems = append(problems, "generation_path is required")
	}
	if job.TechMapPath == "" {
		problems = append(problems, "techmap_path is required")
	}
	if job.Resolution <= 0 {
		problems = append(problems, fmt.Sprintf("resolution must be positive, got %d", job.Resolution))
	}
	if job.Workers < 0 {
		problems = append(problems, fmt.Sprintf("workers must not be negative, got %d", job.Workers))
	}
	for _, g := range job.GIDs {
		if g < 0 {
			problems = append(problems, fmt.Sprintf("gid %d is negative", g))
			break
		}
	}
	switch job.Format {
	case "table", "mapping":
	default:
		problems = append(problems, fmt.Sprintf("format must be table or mapping, got %q", job.Format))
	}
	switch job.Isolation {
	case "goroutine", "process":
	default:
		problems = append(problems, fmt.Sprintf("isolation must be goroutine or process, got %q", job.Isolation))
	}
	for name, expr := range job.Selectors {
		if name == "" || expr == "" {
			problems = append(problems, "selectors need a name and an expression")
			break
		}
	}
	if job.TechMap != nil && job.TechMap.MaxDistanceKm < 0 {
		problems = append(problems, "techmap.max_distance_km must not be negative")
	}
	if job.Log != nil {
		switch job.Log.Format {
		case "json", "console":
		default:
			problems = append(problems, fmt.Sprintf("log.format must be json or console, got %q", job.Log.Format))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
