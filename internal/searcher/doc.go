// Package searcher answers semantic queries against a built index.
//
// A Searcher embeds the query through an embedder.Cache, asks the store for
// the k nearest chunks by L2 distance and maps them to types.QueryResult.
// The first query triggers a one-time warmup; if it fails the searcher stays
// cold and retries on the next query. Queries hold a read lock on the open
// index, so Reload and Close wait for them to finish.
//
//	s := searcher.New(searcher.OpenFile("vecsearch.db", storage.Tuning{}), cache, searcher.Options{})
//	resp, err := s.SearchWithTiming(ctx, "履修登録", 5)
//
// Envelope never returns an error: failures become
// {"error": "...", "results": []}, which is what the MCP tool hands back.
package searcher
