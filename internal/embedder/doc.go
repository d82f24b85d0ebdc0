// Package embedder turns text into fixed-length float32 vectors.
//
// Providers implement Embedder:
//
//   - OpenAIProvider talks to any OpenAI-compatible /embeddings endpoint,
//     including self-hosted inference servers (set BaseURL, no key needed).
//   - JinaProvider talks to the Jina AI API.
//   - LocalProvider derives vectors from a SHA-256 stream. It needs no
//     network and is what tests use.
//
// Remote providers are rate limited and retry transport failures, 429 and
// 5xx replies with exponential backoff; other statuses fail at once as a
// *StatusError. Their Warm method sends one request so bad credentials or a
// wrong dimension show up before the first query. Every provider checks
// returned vectors against its configured dimension.
//
// # Cache
//
// Cache wraps any Embedder with an exact-match LRU keyed by the text:
//
//	emb, _ := embedder.New(embedder.Config{Provider: "local", Dimension: 2048})
//	cache := embedder.NewCache(emb, embedder.CacheOptions{Capacity: 100})
//	vec, err := cache.Embed(ctx, "検索クエリ")
//
// Concurrent misses on the same text share one provider call, which runs
// detached from any caller and is bounded by CacheOptions.CallTimeout.
// Provider calls are bounded by CacheOptions.MaxConcurrent. Failures are
// wrapped with types.ErrEmbeddingFailure.
package embedder
