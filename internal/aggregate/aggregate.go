// Package aggregate runs the point summarizer over a set of supply-curve gids,
// serially or on a bounded pool of workers, and merges the results.
package aggregate

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/agentic-research/scagg/internal/extent"
	"github.com/agentic-research/scagg/internal/metrics"
	"github.com/agentic-research/scagg/internal/pool"
	"github.com/agentic-research/scagg/internal/summary"
	"github.com/agentic-research/scagg/internal/table"
	"github.com/agentic-research/scagg/internal/techmap"
)

// Aggregator runs aggregations. The zero value is usable: it checks inputs on
// the OS filesystem, builds missing tech-maps with the nearest-site builder,
// and summarizes without selectors.
type Aggregator struct {
	Log        *zap.Logger
	FS         billy.Basic
	Resolver   *techmap.Resolver
	Summarizer *summary.Summarizer
	Metrics    *metrics.Recorder

	// ChunkCommand is the argv of the child process used with
	// IsolationProcess. It defaults to this executable with "chunk".
	ChunkCommand []string
	// ChunkEnv is appended to the environment of child processes.
	ChunkEnv []string
}

type outcome struct {
	result  *ChunkResult
	elapsed time.Duration
}

// Run executes one aggregation.
func (a *Aggregator) Run(ctx context.Context, opts Options) (*Result, error) {
	log := a.Log
	if log == nil {
		log = zap.NewNop()
	}
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := a.checkInputs(opts); err != nil {
		return nil, err
	}

	built, err := a.resolver(log).Ensure(ctx, opts.ExclusionPath, opts.GenerationPath, opts.TechMapPath)
	if err != nil {
		return nil, err
	}
	if built {
		a.Metrics.TechMapBuilt()
	}

	gids := opts.GIDs
	if gids == nil {
		ext, err := extent.Open(opts.ExclusionPath, opts.Resolution)
		if err != nil {
			return nil, err
		}
		gids = ext.GIDs()
	} else {
		gids = uniqueSorted(gids)
	}

	summarizer := a.Summarizer
	if summarizer == nil {
		if summarizer, err = summary.NewSummarizer(log, nil); err != nil {
			return nil, err
		}
	}

	workers := opts.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	var mapping summary.Mapping
	switch {
	case len(gids) == 0:
		log.Info("no gids to aggregate")
		mapping = summary.Mapping{}
	case workers == 1:
		mapping, err = a.runSerial(ctx, log, summarizer, opts, gids)
	default:
		var r runner = localRunner{summarizer: summarizer, log: log}
		if opts.Isolation == IsolationProcess {
			if r, err = a.processRunner(); err != nil {
				return nil, err
			}
		}
		mapping, err = a.runParallel(ctx, log, r, summarizer, opts, gids, workers)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Format: opts.Format, Mapping: mapping}
	if opts.Format == FormatTable {
		res.Table = table.FromMapping(mapping)
	}
	return res, nil
}

func (a *Aggregator) checkInputs(opts Options) error {
	fs := a.FS
	if fs == nil {
		fs = osfs.Default
	}
	for _, in := range []struct{ name, path string }{
		{"exclusion", opts.ExclusionPath},
		{"generation", opts.GenerationPath},
	} {
		if _, err := fs.Stat(in.path); err != nil {
			return &InputError{Name: in.name, Path: in.path, Err: err}
		}
	}
	return nil
}

func (a *Aggregator) resolver(log *zap.Logger) *techmap.Resolver {
	if a.Resolver != nil {
		return a.Resolver
	}
	return &techmap.Resolver{
		FS:      osfs.Default,
		Builder: &techmap.NearestBuilder{Log: log},
		Log:     log,
	}
}

func (a *Aggregator) processRunner() (runner, error) {
	argv := a.ChunkCommand
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable for chunk workers: %w", err)
		}
		argv = []string{exe, "chunk"}
	}
	return processRunner{argv: argv, env: a.ChunkEnv}, nil
}

func (a *Aggregator) runSerial(ctx context.Context, log *zap.Logger, s *summary.Summarizer, opts Options, gids []int) (summary.Mapping, error) {
	log.Info("aggregating serially", zap.Int("gids", len(gids)))
	start := time.Now()
	res, err := SerialSummary(ctx, s, log, ChunkRequest{
		Paths:      opts.paths(),
		Resolution: opts.Resolution,
		GIDs:       gids,
		Attributes: opts.Attributes,
	})
	if err != nil {
		return nil, err
	}
	a.Metrics.ChunkCompleted(time.Since(start), len(res.Summaries), len(res.Empty))
	return res.Summaries, nil
}

// runParallel fans chunks out to a pool. A failed chunk does not stop the
// others: the pool drains before the first failure is returned.
func (a *Aggregator) runParallel(ctx context.Context, log *zap.Logger, r runner, s *summary.Summarizer, opts Options, gids []int, workers int) (summary.Mapping, error) {
	chunks := Chunks(gids, opts.ChunkSize)
	log.Info("aggregating in parallel",
		zap.Int("gids", len(gids)),
		zap.Int("chunks", len(chunks)),
		zap.Int("workers", workers),
		zap.String("isolation", string(opts.Isolation)))

	p, err := pool.New[outcome](workers, workers)
	if err != nil {
		return nil, err
	}

	selectors := s.Selectors()
	futures := make([]*pool.Future[outcome], 0, len(chunks))
	for _, chunk := range chunks {
		req := ChunkRequest{
			Paths:      opts.paths(),
			Resolution: opts.Resolution,
			GIDs:       chunk,
			Attributes: opts.Attributes,
			Selectors:  selectors,
		}
		futures = append(futures, p.Submit(func() (outcome, error) {
			start := time.Now()
			res, err := r.run(ctx, req)
			return outcome{result: res, elapsed: time.Since(start)}, err
		}))
	}
	defer p.Close()

	mapping := make(summary.Mapping, len(gids))
	var firstErr error
	completed := 0
	for f := range pool.AsCompleted(futures) {
		out, err := f.Result()
		chunk := chunks[f.Index()]
		if err != nil {
			log.Error("chunk failed",
				zap.Int("chunk", f.Index()),
				zap.Int("first_gid", chunk[0]),
				zap.Int("last_gid", chunk[len(chunk)-1]),
				zap.Error(err))
			if firstErr == nil {
				firstErr = &WorkerError{Chunk: f.Index(), FirstGID: chunk[0], LastGID: chunk[len(chunk)-1], Err: err}
			}
			continue
		}

		for gid, ps := range out.result.Summaries {
			if _, dup := mapping[gid]; dup {
				if firstErr == nil {
					firstErr = fmt.Errorf("gid %d returned by more than one chunk", gid)
				}
				continue
			}
			mapping[gid] = ps
		}
		completed++
		a.Metrics.ChunkCompleted(out.elapsed, len(out.result.Summaries), len(out.result.Empty))
		log.Info(fmt.Sprintf("%d of %d complete", completed, len(chunks)),
			zap.Int("chunk", f.Index()),
			zap.Int("points", len(out.result.Summaries)),
			zap.Duration("elapsed", out.elapsed))
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return mapping, nil
}

func uniqueSorted(gids []int) []int {
	out := append([]int(nil), gids...)
	sort.Ints(out)
	n := 0
	for i, g := range out {
		if i > 0 && g == out[n-1] {
			continue
		}
		out[n] = g
		n++
	}
	return out[:n]
}
