package aggregate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agentic-research/scagg/internal/extent"
	"github.com/agentic-research/scagg/internal/metrics"
	"github.com/agentic-research/scagg/internal/summary"
	"github.com/agentic-research/scagg/internal/synth"
	"github.com/agentic-research/scagg/internal/techmap"
)

const helperEnv = "SCAGG_CHUNK_HELPER"

// TestChunkHelperProcess is not a real test: it is the child side of
// IsolationProcess when the test binary re-executes itself.
func TestChunkHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	if err := ServeChunk(context.Background(), os.Stdin, os.Stdout, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func helperCommand() (argv, env []string) {
	return []string{os.Args[0], "-test.run=TestChunkHelperProcess", "--"}, []string{helperEnv + "=1"}
}

// smallDataset is a 96x80 raster, 120 cells at resolution 8.
func smallDataset(t *testing.T, include func(row, col int) bool) Options {
	t.Helper()
	dir := t.TempDir()
	ds, err := synth.Write(dir, synth.Options{
		Rows:             96,
		Cols:             80,
		PixelSize:        0.001,
		SiteStride:       12,
		ExcludedFraction: 0.35,
		Seed:             42,
		Include:          include,
	})
	require.NoError(t, err)
	return Options{
		ExclusionPath:  ds.Exclusion,
		GenerationPath: ds.Generation,
		TechMapPath:    filepath.Join(dir, "tm.db"),
		Resolution:     8,
	}
}

func counterValue(t *testing.T, rec *metrics.Recorder, name string) float64 {
	t.Helper()
	mfs, err := rec.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestRun_ExampleScenario(t *testing.T) {
	dir := t.TempDir()
	ds, err := synth.Write(dir, synth.Options{
		Rows: 640, Cols: 640,
		Include: func(int, int) bool { return true },
	})
	require.NoError(t, err)

	ext, err := extent.Open(ds.Exclusion, 64)
	require.NoError(t, err)
	require.Equal(t, 100, ext.Len())

	a := &Aggregator{Log: zaptest.NewLogger(t)}
	res, err := a.Run(context.Background(), Options{
		ExclusionPath:  ds.Exclusion,
		GenerationPath: ds.Generation,
		TechMapPath:    filepath.Join(dir, "tm.db"),
		GIDs:           []int{0, 1, 2},
		Workers:        1,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Table)
	assert.Equal(t, FormatTable, res.Format)
	assert.Equal(t, []int{0, 1, 2}, res.Table.Index)
	for _, col := range summary.DefaultAttributes {
		assert.GreaterOrEqual(t, res.Table.Column(col), 0, "column %s", col)
	}
	for gid, ps := range res.Mapping {
		assert.Equal(t, gid, ps[summary.AttrSCGID])
		assert.Equal(t, 0, ps[summary.AttrSCRowInd])
		assert.Equal(t, gid, ps[summary.AttrSCColInd])
	}
}

func TestRun_SerialParallelEquivalence(t *testing.T) {
	opts := smallDataset(t, nil)
	opts.Format = FormatMapping
	opts.Attributes = []string{
		summary.AttrResourceGIDs, summary.AttrGenGIDs, summary.AttrLatitude, summary.AttrLongitude,
		summary.AttrNPixels, summary.AttrAreaSqKm, "mean_cf",
	}
	opts.ChunkSize = 7

	s, err := summary.NewSummarizer(nil, map[string]string{"mean_cf": "$.cf_mean"})
	require.NoError(t, err)
	argv, env := helperCommand()
	a := &Aggregator{Log: zaptest.NewLogger(t), Summarizer: s, ChunkCommand: argv, ChunkEnv: env}

	serialOpts := opts
	serialOpts.Workers = 1
	serial, err := a.Run(context.Background(), serialOpts)
	require.NoError(t, err)
	require.NotEmpty(t, serial.Mapping)
	assert.Nil(t, serial.Table)

	t.Run("goroutines", func(t *testing.T) {
		o := opts
		o.Workers = 4
		par, err := a.Run(context.Background(), o)
		require.NoError(t, err)
		assert.Equal(t, serial.Mapping, par.Mapping)
	})

	t.Run("processes", func(t *testing.T) {
		o := opts
		o.Workers = 3
		o.ChunkSize = 40
		o.Isolation = IsolationProcess
		par, err := a.Run(context.Background(), o)
		require.NoError(t, err)
		assert.Equal(t, serial.Mapping, par.Mapping)
	})
}

func TestRun_Idempotent(t *testing.T) {
	opts := smallDataset(t, nil)
	opts.Workers = 2
	opts.ChunkSize = 25
	a := &Aggregator{}

	first, err := a.Run(context.Background(), opts)
	require.NoError(t, err)
	second, err := a.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, first.Mapping, second.Mapping)
	assert.Equal(t, first.Table, second.Table)
}

func TestRun_EmptyPointsExcluded(t *testing.T) {
	// Cell 0 covers rows and columns 0..7 and is fully excluded.
	opts := smallDataset(t, func(row, col int) bool { return row >= 8 || col >= 8 })
	opts.Workers = 2
	opts.ChunkSize = 30
	rec := metrics.New()
	a := &Aggregator{Metrics: rec}

	res, err := a.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.NotContains(t, res.Mapping, 0)
	assert.Len(t, res.Mapping, 119)
	assert.NotContains(t, res.Table.Index, 0)
	assert.Equal(t, 1.0, counterValue(t, rec, "scagg_points_empty_total"))
	assert.Equal(t, 119.0, counterValue(t, rec, "scagg_points_summarized_total"))
}

type countingBuilder struct {
	inner techmap.Builder
	calls int
	err   error
}

func (b *countingBuilder) Build(ctx context.Context, excl, gen, tm string) error {
	b.calls++
	if b.err != nil {
		return b.err
	}
	return b.inner.Build(ctx, excl, gen, tm)
}

func TestRun_TechMapBuiltOnce(t *testing.T) {
	opts := smallDataset(t, nil)
	opts.Workers = 1
	builder := &countingBuilder{inner: &techmap.NearestBuilder{}}
	rec := metrics.New()
	a := &Aggregator{
		Resolver: &techmap.Resolver{FS: osfs.Default, Builder: builder},
		Metrics:  rec,
	}

	_, err := a.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, builder.calls)

	_, err = a.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, builder.calls, "existing techmap is reused")
	assert.Equal(t, 1.0, counterValue(t, rec, "scagg_techmap_builds_total"))
}

func TestRun_TechMapBuildFailure(t *testing.T) {
	opts := smallDataset(t, nil)
	cause := errors.New("no space left")
	a := &Aggregator{Resolver: &techmap.Resolver{FS: osfs.Default, Builder: &countingBuilder{err: cause}}}

	_, err := a.Run(context.Background(), opts)
	var be *techmap.BuildError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, cause)
}

func TestRun_MissingInput(t *testing.T) {
	opts := smallDataset(t, nil)
	builder := &countingBuilder{inner: &techmap.NearestBuilder{}}
	a := &Aggregator{Resolver: &techmap.Resolver{FS: osfs.Default, Builder: builder}}

	t.Run("exclusion", func(t *testing.T) {
		o := opts
		o.ExclusionPath = filepath.Join(t.TempDir(), "missing.db")
		_, err := a.Run(context.Background(), o)
		var ie *InputError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "exclusion", ie.Name)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("generation", func(t *testing.T) {
		o := opts
		o.GenerationPath = filepath.Join(t.TempDir(), "missing.db")
		_, err := a.Run(context.Background(), o)
		var ie *InputError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "generation", ie.Name)
	})

	assert.Zero(t, builder.calls, "no build before inputs are checked")
}

func TestRun_WorkerFailure(t *testing.T) {
	opts := smallDataset(t, nil)
	gids := make([]int, 0, 31)
	for i := 0; i < 30; i++ {
		gids = append(gids, i)
	}
	opts.GIDs = append(gids, 9999)
	opts.Workers = 3
	opts.ChunkSize = 5
	rec := metrics.New()
	a := &Aggregator{Metrics: rec}

	res, err := a.Run(context.Background(), opts)
	require.Error(t, err)
	assert.Nil(t, res, "no partial result")

	var we *WorkerError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 6, we.Chunk)
	assert.Equal(t, 9999, we.LastGID)
	assert.ErrorIs(t, err, extent.ErrGIDOutOfRange)
	assert.Equal(t, 6.0, counterValue(t, rec, "scagg_chunks_completed_total"), "other chunks ran to completion")

	t.Run("process isolation folds diagnostics", func(t *testing.T) {
		argv, env := helperCommand()
		pa := &Aggregator{ChunkCommand: argv, ChunkEnv: env}
		o := opts
		o.Isolation = IsolationProcess
		_, err := pa.Run(context.Background(), o)
		var we *WorkerError
		require.ErrorAs(t, err, &we)
		assert.Contains(t, err.Error(), "gid outside supply curve extent")
	})
}

func TestRun_EmptyGIDSet(t *testing.T) {
	opts := smallDataset(t, nil)
	opts.GIDs = []int{}
	res, err := (&Aggregator{}).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Zero(t, res.Len())
	assert.Zero(t, res.Table.Len())
}

func TestRun_ProgressLogged(t *testing.T) {
	opts := smallDataset(t, nil)
	opts.Workers = 4
	opts.ChunkSize = 10

	core, logs := observer.New(zapcore.InfoLevel)
	_, err := (&Aggregator{Log: zap.New(core)}).Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 12, logs.FilterMessageSnippet("of 12 complete").Len())
	assert.Equal(t, 1, logs.FilterMessage("12 of 12 complete").Len())
}

func TestRun_DuplicateGIDsCollapsed(t *testing.T) {
	opts := smallDataset(t, nil)
	opts.GIDs = []int{5, 3, 5, 3, 9}
	opts.Workers = 2
	opts.ChunkSize = 1
	res, err := (&Aggregator{}).Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 9}, res.Table.Index)
}

func TestRun_InvalidOptions(t *testing.T) {
	opts := smallDataset(t, nil)
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"negative workers", func(o *Options) { o.Workers = -1 }},
		{"negative resolution", func(o *Options) { o.Resolution = -8 }},
		{"unknown format", func(o *Options) { o.Format = "parquet" }},
		{"unknown isolation", func(o *Options) { o.Isolation = "thread" }},
		{"missing techmap path", func(o *Options) { o.TechMapPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := opts
			tt.mutate(&o)
			_, err := (&Aggregator{}).Run(context.Background(), o)
			require.Error(t, err)
		})
	}
}

func TestChunks(t *testing.T) {
	gids := make([]int, 2500)
	for i := range gids {
		gids[i] = i
	}
	chunks := Chunks(gids, 1000)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{834, 833, 833}, []int{len(chunks[0]), len(chunks[1]), len(chunks[2])})

	seen := make(map[int]bool)
	for _, c := range chunks {
		for _, g := range c {
			require.False(t, seen[g], "gid %d in two chunks", g)
			seen[g] = true
		}
	}
	assert.Len(t, seen, len(gids))

	tests := []struct {
		n, size, want int
	}{
		{1, 1000, 1},
		{1000, 1000, 1},
		{1001, 1000, 2},
		{10, 3, 4},
	}
	for _, tt := range tests {
		in := make([]int, tt.n)
		got := Chunks(in, tt.size)
		assert.Len(t, got, tt.want, "n=%d size=%d", tt.n, tt.size)
		assert.GreaterOrEqual(t, len(got[0]), len(got[len(got)-1]))
	}
	assert.Nil(t, Chunks(nil, 1000))
}
