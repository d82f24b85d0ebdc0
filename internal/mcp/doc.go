// Package mcp exposes the searcher as a Model Context Protocol server.
//
// Two tools are registered:
//
//   - search(query, top_k = 5) returns {"results": [{text, url, file, source, distance}]}
//     or {"error": "...", "results": []} as the tool text. Search failures never
//     surface as protocol errors.
//   - get_status() returns index statistics, cache usage and provider details.
//
// The server speaks stdio (the default, for local MCP clients) or streamable
// HTTP, optionally stateless:
//
//	srv := mcp.NewServer(cfg, srch, logger)
//	err := srv.Serve(ctx)
package mcp
