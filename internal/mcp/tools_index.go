package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fib-server/internal/fib"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

// Index tool names.
const (
	QuerySingleToolName    = "query_single_blueprint"
	StatusToolName         = "blueprint_index_status"
	CacheAllToolName       = "cache_all_blueprints"
	CancelCacheAllToolName = "cancel_cache_all"
)

// QuerySingleArgument identifies one blueprint.
type QuerySingleArgument struct {
	Path string `json:"path" jsonschema:"package or object path of the blueprint, e.g. /Game/Characters/BP_Hero"`
}

// CacheAllArgument controls bulk indexing.
type CacheAllArgument struct {
	Wait bool `json:"wait,omitempty" jsonschema:"block until bulk indexing finishes and report the summary"`
}

// NoArgument is the input of tools without parameters.
type NoArgument struct{}

// IndexHandler handles the index management MCP tools.
type IndexHandler struct {
	index   *fib.Manager
	metrics *metrics.Metrics
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(index *fib.Manager, m *metrics.Metrics) *IndexHandler {
	return &IndexHandler{index: index, metrics: m}
}

// HandleQuerySingle re-indexes one blueprint and returns its document.
func (h *IndexHandler) HandleQuerySingle(ctx context.Context, req *mcp.CallToolRequest, args QuerySingleArgument) (*mcp.CallToolResult, any, error) {
	text, err := h.querySingle(ctx, args.Path)
	h.metrics.ToolCall(QuerySingleToolName, err)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(text), nil, nil
}

func (h *IndexHandler) querySingle(ctx context.Context, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path cannot be empty")
	}
	doc, err := h.index.QuerySingleBlueprint(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to index %s: %w", path, err)
	}
	outline, err := renderDocument(doc)
	if err != nil {
		return "", fmt.Errorf("failed to decode document of %s: %w", path, err)
	}
	return fmt.Sprintf("## %s\n\n%s", path, outline), nil
}

// HandleStatus reports index counters as JSON.
func (h *IndexHandler) HandleStatus(ctx context.Context, req *mcp.CallToolRequest, args NoArgument) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(h.index.Status(), "", "  ")
	h.metrics.ToolCall(StatusToolName, err)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode status: %s", err)), nil, nil
	}
	return textResult(string(data)), nil, nil
}

// HandleCacheAll starts bulk indexing of uncached blueprints, optionally
// waiting for it to finish.
func (h *IndexHandler) HandleCacheAll(ctx context.Context, req *mcp.CallToolRequest, args CacheAllArgument) (*mcp.CallToolResult, any, error) {
	done := make(chan fib.CacheSummary, 1)
	err := h.index.StartCacheAll(func(s fib.CacheSummary) { done <- s })
	h.metrics.ToolCall(CacheAllToolName, err)
	if err != nil {
		if errors.Is(err, fib.ErrCacheBusy) {
			return errorResult("Bulk indexing is already running in another process sharing this cache"), nil, nil
		}
		return errorResult(fmt.Sprintf("Failed to start bulk indexing: %s", err)), nil, nil
	}

	if !args.Wait {
		select {
		case s := <-done:
			return summaryResult(s), nil, nil
		default:
		}
		return textResult(fmt.Sprintf("Bulk indexing started for %d uncached blueprints. Use %s to follow progress.",
			len(h.index.UncachedBlueprints()), StatusToolName)), nil, nil
	}

	select {
	case s := <-done:
		return summaryResult(s), nil, nil
	case <-ctx.Done():
		return errorResult(fmt.Sprintf("Stopped waiting for bulk indexing: %s. Indexing continues in the background.", ctx.Err())), nil, nil
	}
}

func summaryResult(s fib.CacheSummary) *mcp.CallToolResult {
	if s.Processed == 0 && !s.Cancelled {
		return textResult("Every blueprint is already indexed.")
	}
	verb := "finished"
	if s.Cancelled {
		verb = "cancelled"
	}
	return textResult(fmt.Sprintf("Bulk indexing %s: %d processed, %d cached, %d failed, %d remaining.",
		verb, s.Processed, s.Cached, s.Failed, s.Remaining))
}

// HandleCancelCacheAll stops bulk indexing.
func (h *IndexHandler) HandleCancelCacheAll(ctx context.Context, req *mcp.CallToolRequest, args NoArgument) (*mcp.CallToolResult, any, error) {
	h.metrics.ToolCall(CancelCacheAllToolName, nil)
	if !h.index.IsCacheInProgress() {
		return textResult("No bulk indexing in progress."), nil, nil
	}
	done := h.index.GetCurrentCacheIndex()
	h.index.CancelCacheAll()
	return textResult(fmt.Sprintf("Bulk indexing cancelled after %d blueprints.", done)), nil, nil
}

// RegisterQuerySingleTool registers query_single_blueprint with an MCP server.
func RegisterQuerySingleTool(server *mcp.Server, index *fib.Manager, m *metrics.Metrics) {
	h := NewIndexHandler(index, m)
	mcp.AddTool(server, &mcp.Tool{
		Name:        QuerySingleToolName,
		Description: "Load one blueprint, refresh its index entry and show its searchable contents",
	}, h.HandleQuerySingle)
}

// RegisterStatusTool registers blueprint_index_status with an MCP server.
func RegisterStatusTool(server *mcp.Server, index *fib.Manager, m *metrics.Metrics) {
	h := NewIndexHandler(index, m)
	mcp.AddTool(server, &mcp.Tool{
		Name:        StatusToolName,
		Description: "Report index size, bulk indexing progress and whether search results may be incomplete",
	}, h.HandleStatus)
}

// RegisterCacheAllTool registers cache_all_blueprints with an MCP server.
func RegisterCacheAllTool(server *mcp.Server, index *fib.Manager, m *metrics.Metrics) {
	h := NewIndexHandler(index, m)
	mcp.AddTool(server, &mcp.Tool{
		Name:        CacheAllToolName,
		Description: "Load and index every blueprint that has no cached search document",
	}, h.HandleCacheAll)
}

// RegisterCancelCacheAllTool registers cancel_cache_all with an MCP server.
func RegisterCancelCacheAllTool(server *mcp.Server, index *fib.Manager, m *metrics.Metrics) {
	h := NewIndexHandler(index, m)
	mcp.AddTool(server, &mcp.Tool{
		Name:        CancelCacheAllToolName,
		Description: "Stop bulk indexing; blueprints not yet processed stay uncached",
	}, h.HandleCancelCacheAll)
}
