package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cast"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// handleSearch handles the search tool invocation. Failures, including bad
// arguments, are returned as an error envelope in the tool text rather than
// as protocol errors.
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	query := cast.ToString(args["query"])
	topK, err := intArg(args, "top_k", s.topK)
	if err != nil {
		return envelopeResult(types.NewErrorResponse(fmt.Errorf("search error: %w", err))), nil
	}

	s.logger.Info("search", "query", query, "top_k", topK)
	resp := s.searcher.Envelope(ctx, query, topK)
	if resp.Error == "" {
		s.logger.Info("search complete", "results", len(resp.Results))
	}
	return envelopeResult(resp), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.searcher.Snapshot(ctx)
	if err != nil {
		s.logger.Error("status failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to get status: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(snap)), nil
}

func envelopeResult(resp types.SearchResponse) *mcp.CallToolResult {
	return mcp.NewToolResultText(formatJSON(resp))
}

// formatJSON renders v as indented JSON without HTML escaping
func formatJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf(`{"error": %q, "results": []}`, err.Error())
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// intArg reads an integer argument, accepting JSON numbers and numeric
// strings. A missing or null argument yields def.
func intArg(args map[string]interface{}, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
	}
	return n, nil
}
