package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/scagg/internal/summary"
)

// runner executes one chunk.
type runner interface {
	run(ctx context.Context, req ChunkRequest) (*ChunkResult, error)
}

// localRunner summarizes in the calling goroutine.
type localRunner struct {
	summarizer *summary.Summarizer
	log        *zap.Logger
}

func (r localRunner) run(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	return SerialSummary(ctx, r.summarizer, r.log, req)
}

// processRunner hands each chunk to a child process speaking the
// ServeChunk protocol on stdin and stdout.
type processRunner struct {
	argv []string
	env  []string
}

func (r processRunner) run(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	in, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chunk request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Env = append(os.Environ(), r.env...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if diag := diagnostics(stderr.String()); diag != "" {
			return nil, fmt.Errorf("chunk process failed: %w: %s", err, diag)
		}
		return nil, fmt.Errorf("chunk process failed: %w", err)
	}
	return DecodeChunkResult(&stdout)
}

// diagnostics joins the non-blank lines of a child's stderr.
func diagnostics(stderr string) string {
	var lines []string
	for _, l := range strings.Split(stderr, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "; ")
}
