package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/mcp-fib-server/internal/fib"
	"github.com/sha1n/mcp-fib-server/internal/metrics"
)

// SearchToolName is the name of the blueprint search tool.
const SearchToolName = "find_in_blueprints"

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query string `json:"query" jsonschema:"search text; every word must appear in the same value, case-insensitive"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of blueprints to return"`
}

// SearchHandler handles the find_in_blueprints MCP tool.
type SearchHandler struct {
	index      *fib.Manager
	maxResults int
	metrics    *metrics.Metrics
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(index *fib.Manager, maxResults int, m *metrics.Metrics) *SearchHandler {
	return &SearchHandler{
		index:      index,
		maxResults: maxResults,
		metrics:    m,
	}
}

// Handle runs the query to completion and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	res, err := h.search(ctx, args)
	h.metrics.ToolCall(SearchToolName, err)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return h.formatResults(res), nil, nil
}

func (h *SearchHandler) search(ctx context.Context, args SearchArgument) (*fib.SearchResults, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query cannot be empty")
	}

	limit := h.maxResults
	if args.Limit > 0 && args.Limit < limit {
		limit = args.Limit
	}

	res, err := h.index.Search(ctx, args.Query, limit)
	if err != nil {
		if errors.Is(err, fib.ErrEmptyQuery) {
			return nil, fmt.Errorf("query has no searchable terms: %s", args.Query)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return res, nil
}

// formatResults formats search results for MCP response.
func (h *SearchHandler) formatResults(res *fib.SearchResults) *mcp.CallToolResult {
	var sb strings.Builder

	if len(res.Results) == 0 {
		sb.WriteString(fmt.Sprintf("No blueprints found for query: %s\n", res.Query))
	} else {
		sb.WriteString(fmt.Sprintf("Found %d blueprints matching '%s':\n\n", len(res.Results), res.Query))
		for i, r := range res.Results {
			sb.WriteString(fmt.Sprintf("### %d. %s\n", i+1, r.AssetPath))
			for _, m := range r.Matches {
				sb.WriteString(fmt.Sprintf("- %s: %s = %s\n", m.Location, m.Key, m.Value))
			}
			sb.WriteString("\n")
		}
	}

	if res.Truncated {
		sb.WriteString("... more blueprints match; narrow the query or raise the limit\n")
	}
	if res.Incomplete {
		s := h.index.Status()
		sb.WriteString(fmt.Sprintf("Note: the index is incomplete (%d uncached, %d failed). Run cache_all_blueprints to index the remaining blueprints.\n", s.Uncached, s.Failed))
	}

	return textResult(sb.String())
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        SearchToolName,
		Description: "Search the contents of every blueprint (graphs, nodes, pins, variables) for text. Results are in asset registration order.",
	}
}

// RegisterSearchTool registers the search tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, index *fib.Manager, maxResults int, m *metrics.Metrics) {
	handler := NewSearchHandler(index, maxResults, m)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
