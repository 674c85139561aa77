package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/agentic-research/scagg/internal/extent"
	"github.com/agentic-research/scagg/internal/summary"
)

// Chunks splits gids into ceil(len/size) contiguous chunks whose sizes differ
// by at most one, larger chunks first.
func Chunks(gids []int, size int) [][]int {
	if len(gids) == 0 {
		return nil
	}
	if size < 1 {
		size = DefaultChunkSize
	}
	n := (len(gids) + size - 1) / size
	base, extra := len(gids)/n, len(gids)%n

	out := make([][]int, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		end := start + base
		if i < extra {
			end++
		}
		out = append(out, gids[start:end])
		start = end
	}
	return out
}

// ChunkRequest is everything a worker needs to summarize one chunk.
type ChunkRequest struct {
	Paths      summary.Paths     `json:"paths"`
	Resolution int               `json:"resolution"`
	GIDs       []int             `json:"gids"`
	Attributes []string          `json:"attributes"`
	Selectors  map[string]string `json:"selectors,omitempty"`
}

// ChunkResult is the output of one chunk. Empty lists the gids that had no
// valid pixels.
type ChunkResult struct {
	Summaries summary.Mapping `json:"summaries"`
	Empty     []int           `json:"empty"`
}

// SerialSummary summarizes req.GIDs in order with one set of handles, which
// are released before it returns. Points with no valid pixels are skipped.
func SerialSummary(ctx context.Context, s *summary.Summarizer, log *zap.Logger, req ChunkRequest) (*ChunkResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	h, err := summary.OpenHandles(req.Paths)
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Close() }() // read-only handles

	ext, err := extent.New(h.Exclusion.Shape(), req.Resolution)
	if err != nil {
		return nil, err
	}

	res := &ChunkResult{Summaries: make(summary.Mapping, len(req.GIDs)), Empty: []int{}}
	for _, gid := range req.GIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ps, err := s.Summarize(gid, h, ext, req.Attributes)
		if errors.Is(err, summary.ErrEmptyPoint) {
			log.Debug("skipping empty supply curve point", zap.Int("gid", gid))
			res.Empty = append(res.Empty, gid)
			continue
		}
		if err != nil {
			return nil, err
		}
		row, col, err := ext.RowCol(gid)
		if err != nil {
			return nil, err
		}
		ps[summary.AttrSCGID] = gid
		ps[summary.AttrSCRowInd] = row
		ps[summary.AttrSCColInd] = col
		res.Summaries[gid] = ps
	}
	return res, nil
}

// DecodeChunkResult reads a JSON chunk result and restores value types.
func DecodeChunkResult(r io.Reader) (*ChunkResult, error) {
	var res ChunkResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode chunk result: %w", err)
	}
	if res.Summaries == nil {
		res.Summaries = summary.Mapping{}
	}
	for gid, ps := range res.Summaries {
		if err := summary.Normalize(ps); err != nil {
			return nil, fmt.Errorf("gid %d: %w", gid, err)
		}
	}
	return &res, nil
}

// ServeChunk is the child side of process isolation: it reads a
// ChunkRequest from in, summarizes it, and writes a ChunkResult to out.
func ServeChunk(ctx context.Context, in io.Reader, out io.Writer, log *zap.Logger) error {
	var req ChunkRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode chunk request: %w", err)
	}
	s, err := summary.NewSummarizer(log, req.Selectors)
	if err != nil {
		return err
	}
	res, err := SerialSummary(ctx, s, log, req)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(res)
}
