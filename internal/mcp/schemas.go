package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/vecsearch-mcp/internal/searcher"
)

// searchTool returns the tool definition for search
func searchTool(defaultK int) mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Run a vector search over the indexed documents and return the nearest chunks as JSON.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query in natural language",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to return",
					"default":     defaultK,
					"minimum":     1,
					"maximum":     searcher.MaxK,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics, embedding cache usage and the embedding provider.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
