package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/scagg/api"
	"github.com/agentic-research/scagg/internal/aggregate"
	"github.com/agentic-research/scagg/internal/config"
	"github.com/agentic-research/scagg/internal/metrics"
	"github.com/agentic-research/scagg/internal/summary"
	"github.com/agentic-research/scagg/internal/techmap"
)

var jobFlags struct {
	name        string
	exclusion   string
	generation  string
	techmap     string
	resolution  int
	workers     int
	gids        []int
	format      string
	attributes  []string
	selectors   map[string]string
	isolation   string
	outDir      string
	metricsFile string
	maxDistance float64
}

func init() {
	f := aggregateCmd.Flags()
	f.StringVar(&jobFlags.name, "name", "", "Run name, used as the output file stem")
	f.StringVarP(&jobFlags.exclusion, "exclusion", "e", "", "Path to exclusion raster store")
	f.StringVarP(&jobFlags.generation, "generation", "g", "", "Path to generation results store")
	f.StringVarP(&jobFlags.techmap, "techmap", "t", "", "Path to tech-map (built when missing)")
	f.IntVarP(&jobFlags.resolution, "resolution", "r", 0, "Cell size in exclusion pixels")
	f.IntVarP(&jobFlags.workers, "workers", "w", 0, "Worker count (0 = one per CPU, 1 = serial)")
	f.IntSliceVar(&jobFlags.gids, "gids", nil, "Restrict to these gids")
	f.StringVarP(&jobFlags.format, "format", "f", "", "Output format: table or mapping")
	f.StringSliceVarP(&jobFlags.attributes, "attributes", "a", nil, "Attributes to compute per point")
	f.StringToStringVar(&jobFlags.selectors, "selector", nil, "Record attribute as name=$.jsonpath (repeatable)")
	f.StringVar(&jobFlags.isolation, "isolation", "", "Chunk isolation: goroutine or process")
	f.StringVarP(&jobFlags.outDir, "out-dir", "o", "", "Directory receiving the output")
	f.StringVar(&jobFlags.metricsFile, "metrics-file", "", "Write prometheus metrics to this textfile")
	f.Float64Var(&jobFlags.maxDistance, "max-distance-km", 0, "Tech-map search radius (0 = unbounded)")
	rootCmd.AddCommand(aggregateCmd)
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate exclusion and generation data onto supply curve points",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := loadJob(cmd)
		if err != nil {
			return err
		}
		log, err := newLogger(cmd, job)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		rec := metrics.New()
		start := time.Now()
		res, err := runJob(cmd.Context(), job, log.Named("aggregate"), rec)
		if err != nil {
			return err
		}

		name, err := writeResult(osfs.New(job.OutDir), job, res)
		if err != nil {
			return err
		}
		if job.MetricsFile != "" {
			if err := rec.WriteTextfile(job.MetricsFile); err != nil {
				return err
			}
		}
		log.Info("supply curve written",
			zap.String("path", filepath.Join(job.OutDir, name)),
			zap.Int("points", res.Len()),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

// loadJob reads --config when given and overlays any flags that were set.
func loadJob(cmd *cobra.Command) (*api.Job, error) {
	job := &api.Job{}
	if configPath != "" {
		var err error
		if job, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	config.ApplyDefaults(job)

	f := cmd.Flags()
	if f.Changed("name") {
		job.Name = jobFlags.name
	}
	if f.Changed("exclusion") {
		job.ExclusionPath = jobFlags.exclusion
	}
	if f.Changed("generation") {
		job.GenerationPath = jobFlags.generation
	}
	if f.Changed("techmap") {
		job.TechMapPath = jobFlags.techmap
	}
	if f.Changed("resolution") {
		job.Resolution = jobFlags.resolution
	}
	if f.Changed("workers") {
		job.Workers = jobFlags.workers
	}
	if f.Changed("gids") {
		job.GIDs = jobFlags.gids
	}
	if f.Changed("format") {
		job.Format = jobFlags.format
	}
	if f.Changed("attributes") {
		job.Attributes = jobFlags.attributes
	}
	if f.Changed("selector") {
		job.Selectors = jobFlags.selectors
	}
	if f.Changed("isolation") {
		job.Isolation = jobFlags.isolation
	}
	if f.Changed("out-dir") {
		job.OutDir = jobFlags.outDir
	}
	if f.Changed("metrics-file") {
		job.MetricsFile = jobFlags.metricsFile
	}
	if f.Changed("max-distance-km") {
		job.TechMap.MaxDistanceKm = jobFlags.maxDistance
	}

	if err := config.Validate(job); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	return job, nil
}

// runJob wires one aggregation from a validated job.
func runJob(ctx context.Context, job *api.Job, log *zap.Logger, rec *metrics.Recorder) (*aggregate.Result, error) {
	s, err := summary.NewSummarizer(log.Named("summary"), job.Selectors)
	if err != nil {
		return nil, err
	}
	tmLog := log.Named("techmap")
	agg := &aggregate.Aggregator{
		Log:        log,
		FS:         osfs.Default,
		Summarizer: s,
		Metrics:    rec,
		Resolver: &techmap.Resolver{
			FS:      osfs.Default,
			Builder: &techmap.NearestBuilder{MaxDistanceKm: job.TechMap.MaxDistanceKm, Log: tmLog},
			Log:     tmLog,
		},
	}
	if job.Isolation == string(aggregate.IsolationProcess) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable for chunk workers: %w", err)
		}
		agg.ChunkCommand = chunkCommand(exe, job)
	}

	gids := job.GIDs
	if len(gids) == 0 {
		gids = nil
	}
	return agg.Run(ctx, aggregate.Options{
		ExclusionPath:  job.ExclusionPath,
		GenerationPath: job.GenerationPath,
		TechMapPath:    job.TechMapPath,
		Resolution:     job.Resolution,
		GIDs:           gids,
		Workers:        job.Workers,
		Format:         aggregate.Format(job.Format),
		Attributes:     job.Attributes,
		Isolation:      aggregate.Isolation(job.Isolation),
	})
}

// chunkCommand is the argv of a process-isolated chunk worker. Workers log
// json at the job's resolved level.
func chunkCommand(exe string, job *api.Job) []string {
	level := config.DefaultLogLevel
	if job.Log != nil && job.Log.Level != "" {
		level = job.Log.Level
	}
	return []string{exe, "chunk", "--log-level", level, "--log-format", "json"}
}

// writeResult stores res in fs as <name>.csv for tables or <name>.json for
// mappings, and returns the file name.
func writeResult(fs billy.Basic, job *api.Job, res *aggregate.Result) (string, error) {
	name := job.Name + ".json"
	if res.Table != nil {
		name = job.Name + ".csv"
	}
	f, err := fs.Create(name)
	if err != nil {
		return "", fmt.Errorf("create output %q: %w", name, err)
	}
	if res.Table != nil {
		err = res.Table.WriteCSV(f)
	} else {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(res.Mapping)
	}
	if err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write output %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close output %q: %w", name, err)
	}
	return name, nil
}
