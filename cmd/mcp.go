package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/scagg/api"
	"github.com/agentic-research/scagg/internal/config"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the aggregate tool over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return server.ServeStdio(newMCPServer(log.Named("mcp")))
	},
}

func newMCPServer(log *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer("scagg", version, server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("aggregate",
		mcp.WithDescription("Aggregate an exclusion raster and generation sites onto supply curve points. "+
			"Returns the table as split-oriented JSON, or the gid mapping when format is mapping."),
		mcp.WithString("exclusion_path", mcp.Required(), mcp.Description("Exclusion raster store")),
		mcp.WithString("generation_path", mcp.Required(), mcp.Description("Generation results store")),
		mcp.WithString("techmap_path", mcp.Required(), mcp.Description("Tech-map, built when missing")),
		mcp.WithNumber("resolution", mcp.Description("Cell size in exclusion pixels (default 64)")),
		mcp.WithNumber("workers", mcp.Description("Worker count, 0 for one per CPU, 1 for serial")),
		mcp.WithArray("gids", mcp.Description("Restrict to these gids"), mcp.Items(map[string]any{"type": "integer"})),
		mcp.WithArray("attributes", mcp.Description("Attributes per point"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithObject("selectors", mcp.Description("Extra attributes as name to JSONPath over site records")),
		mcp.WithString("format", mcp.Enum("table", "mapping"), mcp.Description("Result shape (default table)")),
	), aggregateTool(log))
	return s
}

func aggregateTool(log *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		job, err := jobFromArguments(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		log.Info("aggregate requested",
			zap.String("exclusion", job.ExclusionPath),
			zap.Int("resolution", job.Resolution),
			zap.Int("gids", len(job.GIDs)))

		res, err := runJob(ctx, job, log, nil)
		if err != nil {
			log.Error("aggregate failed", zap.Error(err))
			return mcp.NewToolResultError(err.Error()), nil
		}

		var buf bytes.Buffer
		if res.Table != nil {
			err = res.Table.WriteJSON(&buf)
		} else {
			err = json.NewEncoder(&buf).Encode(res.Mapping)
		}
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return mcp.NewToolResultText(buf.String()), nil
	}
}

// jobFromArguments decodes tool arguments through the job's JSON schema.
// Process isolation is not offered over MCP.
func jobFromArguments(args map[string]any) (*api.Job, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	job := &api.Job{}
	if err := json.Unmarshal(b, job); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	job.Isolation = ""
	config.ApplyDefaults(job)
	if err := config.Validate(job); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return job, nil
}
