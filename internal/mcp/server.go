package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fib-server/internal/fib"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

// DefaultMaxResults caps find_in_blueprints when neither the caller nor the
// server configuration sets a limit.
const DefaultMaxResults = 50

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string
	// Index is the blueprint search index; tools are only registered when set.
	Index      *fib.Manager
	MaxResults int
	Metrics    *metrics.Metrics
}

// CreateServer creates and configures the MCP server
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	if cfg.Index != nil {
		maxResults := cfg.MaxResults
		if maxResults <= 0 {
			maxResults = DefaultMaxResults
		}
		RegisterSearchTool(s, cfg.Index, maxResults, cfg.Metrics)
		RegisterQuerySingleTool(s, cfg.Index, cfg.Metrics)
		RegisterStatusTool(s, cfg.Index, cfg.Metrics)
		RegisterCacheAllTool(s, cfg.Index, cfg.Metrics)
		RegisterCancelCacheAllTool(s, cfg.Index, cfg.Metrics)
	}

	return s
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	res := textResult(text)
	res.IsError = true
	return res
}
