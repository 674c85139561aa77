package aggregate

import (
	"fmt"

	"github.com/agentic-research/scagg/internal/extent"
	"github.com/agentic-research/scagg/internal/summary"
	"github.com/agentic-research/scagg/internal/table"
)

// DefaultChunkSize is the target number of gids per chunk.
const DefaultChunkSize = 1000

// Format selects the shape of a Result.
type Format string

const (
	FormatTable   Format = "table"
	FormatMapping Format = "mapping"
)

// Isolation selects how parallel chunks are executed.
type Isolation string

const (
	// IsolationGoroutine runs chunks on pool goroutines with private handles.
	IsolationGoroutine Isolation = "goroutine"
	// IsolationProcess runs every chunk in a child process.
	IsolationProcess Isolation = "process"
)

// Options describe one aggregation run.
type Options struct {
	ExclusionPath  string
	GenerationPath string
	TechMapPath    string

	// Resolution is the cell size in pixels. Zero means 64.
	Resolution int
	// GIDs restricts the run. Nil means the full extent.
	GIDs []int
	// Workers bounds parallelism. Zero means one per CPU; one runs serially.
	Workers int
	// Format defaults to FormatTable.
	Format Format
	// Attributes requested per point. Nil means the defaults.
	Attributes []string
	// Isolation defaults to IsolationGoroutine.
	Isolation Isolation
	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int
}

func (o *Options) applyDefaults() {
	if o.Resolution == 0 {
		o.Resolution = extent.DefaultResolution
	}
	if o.Format == "" {
		o.Format = FormatTable
	}
	if o.Isolation == "" {
		o.Isolation = IsolationGoroutine
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
}

func (o *Options) validate() error {
	switch {
	case o.ExclusionPath == "":
		return fmt.Errorf("exclusion path is required")
	case o.GenerationPath == "":
		return fmt.Errorf("generation path is required")
	case o.TechMapPath == "":
		return fmt.Errorf("techmap path is required")
	case o.Resolution < 0:
		return fmt.Errorf("resolution must be positive, got %d", o.Resolution)
	case o.Workers < 0:
		return fmt.Errorf("worker count must not be negative, got %d", o.Workers)
	case o.ChunkSize < 0:
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	switch o.Format {
	case FormatTable, FormatMapping:
	default:
		return fmt.Errorf("unknown output format %q", o.Format)
	}
	switch o.Isolation {
	case IsolationGoroutine, IsolationProcess:
	default:
		return fmt.Errorf("unknown isolation %q", o.Isolation)
	}
	return nil
}

func (o *Options) paths() summary.Paths {
	return summary.Paths{
		Exclusion:  o.ExclusionPath,
		Generation: o.GenerationPath,
		TechMap:    o.TechMapPath,
	}
}

// Result is the outcome of a run. Mapping is always set; Table only for
// FormatTable.
type Result struct {
	Format  Format
	Mapping summary.Mapping
	Table   *table.Table
}

// Len is the number of supply curve points in the result.
func (r *Result) Len() int { return len(r.Mapping) }
