package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/vecsearch-mcp/internal/config"
	"github.com/dshills/vecsearch-mcp/internal/embedder"
	"github.com/dshills/vecsearch-mcp/internal/searcher"
	"github.com/dshills/vecsearch-mcp/internal/storage"
	"github.com/dshills/vecsearch-mcp/pkg/types"
)

const testDim = 4

var corpus = []string{"大学の授業", "履修登録の方法", "成績の確認", "卒業要件", "学生証の再発行", "図書館の利用"}

func testConfig() *config.Config {
	return &config.Config{
		Search: config.SearchConfig{TopK: 5},
		Server: config.ServerConfig{Transport: config.TransportStdio, Host: "127.0.0.1", Port: 8080},
	}
}

// setupTestServer builds a small index and serves it. With empty set the
// index file is never created.
func setupTestServer(t *testing.T, empty bool) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")

	if !empty {
		store, err := storage.Create(path, testDim, storage.Tuning{})
		require.NoError(t, err)
		entries := make([]storage.IndexEntry, len(corpus))
		for i, text := range corpus {
			entries[i] = storage.IndexEntry{
				Vector: embedder.HashVector(text, testDim),
				Payload: types.Payload{
					ChunkText: text,
					Reference: fmt.Sprintf("https://example.com/%d", i),
					Name:      fmt.Sprintf("doc%d.md", i),
					Source:    types.SourceRemote,
				},
			}
		}
		_, err = store.InsertBatch(context.Background(), entries)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}

	p, err := embedder.NewLocalProvider(testDim)
	require.NoError(t, err)
	srch := searcher.New(searcher.OpenFile(path, storage.Tuning{}), embedder.NewCache(p, embedder.CacheOptions{}), searcher.Options{})
	t.Cleanup(func() { _ = srch.Close() })

	return NewServer(testConfig(), srch, nil)
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

// decodeEnvelope parses tool text into a generic map so the wire field
// names are checked, not the Go struct.
func decodeEnvelope(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func TestHandleSearch(t *testing.T) {
	s := setupTestServer(t, false)
	ctx := context.Background()

	res, err := s.handleSearch(ctx, callTool("search", map[string]interface{}{
		"query": "成績の確認",
		"top_k": float64(3),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	env := decodeEnvelope(t, res)
	assert.NotContains(t, env, "error")
	results, ok := env["results"].([]interface{})
	require.True(t, ok)
	require.Len(t, results, 3)

	first := results[0].(map[string]interface{})
	assert.Equal(t, "成績の確認", first["text"])
	assert.Equal(t, "https://example.com/2", first["url"])
	assert.Equal(t, "doc2.md", first["file"])
	assert.Equal(t, "ftp", first["source"])
	assert.InDelta(t, 0, first["distance"], 1e-5)

	// Non-ASCII text is not escaped
	assert.Contains(t, resultText(t, res), "成績の確認")
}

func TestHandleSearch_DefaultTopK(t *testing.T) {
	s := setupTestServer(t, false)

	res, err := s.handleSearch(context.Background(), callTool("search", map[string]interface{}{"query": "大学"}))
	require.NoError(t, err)
	results := decodeEnvelope(t, res)["results"].([]interface{})
	assert.Len(t, results, 5)
}

func TestHandleSearch_TopKCoercion(t *testing.T) {
	s := setupTestServer(t, false)

	tests := []struct {
		name string
		topK interface{}
		want int
	}{
		{"json number", float64(2), 2},
		{"int", 1, 1},
		{"numeric string", "4", 4},
		{"null", nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleSearch(context.Background(), callTool("search", map[string]interface{}{
				"query": "大学",
				"top_k": tt.topK,
			}))
			require.NoError(t, err)
			env := decodeEnvelope(t, res)
			assert.NotContains(t, env, "error")
			assert.Len(t, env["results"], tt.want)
		})
	}
}

func TestHandleSearch_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		empty bool
		args  map[string]interface{}
		want  string
	}{
		{"empty query", false, map[string]interface{}{"query": ""}, types.ErrInvalidQuery.Error()},
		{"missing query", false, map[string]interface{}{}, types.ErrInvalidQuery.Error()},
		{"bad top_k", false, map[string]interface{}{"query": "大学", "top_k": "many"}, "top_k must be an integer"},
		{"no index", true, map[string]interface{}{"query": "大学"}, "vecsearch build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, tt.empty)
			res, err := s.handleSearch(context.Background(), callTool("search", tt.args))
			require.NoError(t, err, "search failures must not be protocol errors")

			env := decodeEnvelope(t, res)
			assert.Contains(t, env["error"], "search error")
			assert.Contains(t, env["error"], tt.want)
			results, ok := env["results"].([]interface{})
			require.True(t, ok, "results must be an empty list, not null")
			assert.Empty(t, results)
		})
	}
}

func TestHandleSearch_NilArguments(t *testing.T) {
	s := setupTestServer(t, false)
	var req mcp.CallToolRequest
	req.Params.Name = "search"

	res, err := s.handleSearch(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, decodeEnvelope(t, res)["error"], types.ErrInvalidQuery.Error())
}

func TestHandleGetStatus(t *testing.T) {
	s := setupTestServer(t, false)
	ctx := context.Background()

	_, err := s.handleSearch(ctx, callTool("search", map[string]interface{}{"query": "大学"}))
	require.NoError(t, err)

	res, err := s.handleGetStatus(ctx, callTool("get_status", nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	status := decodeEnvelope(t, res)
	assert.Equal(t, embedder.ProviderLocal, status["provider"])
	assert.Equal(t, true, status["warmed"])

	index := status["index"].(map[string]interface{})
	assert.Equal(t, float64(len(corpus)), index["row_count"])
	assert.Equal(t, float64(len(corpus)), index["metadata_count"])
	assert.Equal(t, float64(testDim), index["dimension"])

	cache := status["cache"].(map[string]interface{})
	assert.Equal(t, float64(2), cache["size"])
}

func TestHandleGetStatus_NoIndex(t *testing.T) {
	s := setupTestServer(t, true)

	res, err := s.handleGetStatus(context.Background(), callTool("get_status", nil))
	require.NoError(t, err)
	status := decodeEnvelope(t, res)
	assert.NotContains(t, status, "index")
	assert.Contains(t, status["index_error"], "vecsearch build")
	assert.Equal(t, false, status["warmed"])
}

func TestToolsList(t *testing.T) {
	s := setupTestServer(t, false)

	msg := s.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				InputSchema struct {
					Required []string `json:"required"`
				} `json:"inputSchema"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))

	names := map[string][]string{}
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = tool.InputSchema.Required
	}
	assert.Equal(t, []string{"query"}, names["search"])
	assert.Contains(t, names, "get_status")
}

func TestServe_UnknownTransport(t *testing.T) {
	s := setupTestServer(t, true)
	s.cfg.Transport = "carrier-pigeon"
	assert.Error(t, s.Serve(context.Background()))
}

func TestEndpoint(t *testing.T) {
	s := setupTestServer(t, true)
	assert.Equal(t, "/mcp", s.endpoint())
	s.cfg.Endpoint = "/rpc"
	assert.Equal(t, "/rpc", s.endpoint())
	assert.NotNil(t, s.Handler())
}

func TestIntArg(t *testing.T) {
	n, err := intArg(map[string]interface{}{}, "top_k", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = intArg(map[string]interface{}{"top_k": "12"}, "top_k", 5)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = intArg(map[string]interface{}{"top_k": []int{1}}, "top_k", 5)
	assert.Error(t, err)
}

func TestFormatJSON_NoHTMLEscape(t *testing.T) {
	out := formatJSON(types.NewResultResponse([]types.QueryResult{{Text: "<a> & b", Source: types.SourceLocal}}))
	assert.Contains(t, out, "<a> & b")
	assert.NotContains(t, out, "\\u003c")
}
