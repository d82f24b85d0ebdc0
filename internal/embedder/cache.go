package embedder

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// DefaultCacheCapacity bounds the number of cached query vectors.
const DefaultCacheCapacity = 100

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Capacity is the maximum number of entries; LRU eviction beyond it.
	Capacity int
	// MaxConcurrent bounds in-flight provider calls.
	MaxConcurrent int64
	// CallTimeout bounds one shared provider call (default: DefaultTimeout).
	CallTimeout time.Duration
}

// CacheStats is a point-in-time view of cache usage.
type CacheStats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// Cache fronts an Embedder with an exact-match LRU keyed by the text.
// Concurrent misses for one text share a single provider call, and all
// provider calls go through a bounded worker pool.
type Cache struct {
	inner    Embedder
	entries  *lru.Cache[string, []float32]
	group    singleflight.Group
	sem      *semaphore.Weighted
	capacity int
	timeout  time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache wraps inner. Zero options select the defaults.
func NewCache(inner Embedder, opts CacheOptions) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCacheCapacity
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = int64(runtime.NumCPU())
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultTimeout
	}

	// lru.New only fails for non-positive sizes
	entries, _ := lru.New[string, []float32](opts.Capacity)

	return &Cache{
		inner:    inner,
		entries:  entries,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		capacity: opts.Capacity,
		timeout:  opts.CallTimeout,
	}
}

// Embed returns the vector for text, invoking the provider only on a miss.
// The returned slice is a copy owned by the caller.
//
// Concurrent misses for one text share a flight. The flight is detached
// from every caller's context and bounded by CallTimeout; each caller
// stops waiting when its own context ends without failing the others.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, ErrEmptyText)
	}

	if v, ok := c.entries.Get(text); ok {
		c.hits.Add(1)
		return cloneVector(v), nil
	}
	c.misses.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, err)
	}

	ch := c.group.DoChan(text, func() (interface{}, error) {
		// Another flight may have filled the entry since our lookup
		if v, ok := c.entries.Peek(text); ok {
			return v, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		vectors, err := c.generate(fctx, []string{text}, false)
		if err != nil {
			return nil, err
		}
		c.entries.Add(text, vectors[0])
		return vectors[0], nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, res.Err)
		}
		return cloneVector(res.Val.([]float32)), nil
	}
}

// EmbedBatch resolves hits from the cache and sends the distinct misses to
// the provider in batches of at most MaxBatchSize. Output order matches
// texts.
//
// Batch misses do not join the per-text flights of Embed: a batch needs one
// provider call for many texts, which a per-key flight cannot express.
// Repeated texts within one call are sent once, builds are serialized by
// the index lock and the indexer sends each distinct chunk text of a
// document once, so the only duplicate left is a query racing a build on
// the same text. Providers are deterministic, so that costs one
// extra request and never an inconsistent vector.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	positions := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d: %w", types.ErrEmbeddingFailure, i, ErrEmptyText)
		}
		if v, ok := c.entries.Get(text); ok {
			c.hits.Add(1)
			out[i] = cloneVector(v)
			continue
		}
		if _, seen := positions[text]; !seen {
			c.misses.Add(1)
			missing = append(missing, text)
		}
		positions[text] = append(positions[text], i)
	}

	for start := 0; start < len(missing); start += MaxBatchSize {
		batch := missing[start:min(start+MaxBatchSize, len(missing))]

		vectors, err := c.generate(ctx, batch, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, err)
		}
		for j, text := range batch {
			c.entries.Add(text, vectors[j])
			for _, i := range positions[text] {
				out[i] = cloneVector(vectors[j])
			}
		}
	}

	return out, nil
}

// generate runs one provider call inside the worker pool.
func (c *Cache) generate(ctx context.Context, texts []string, batch bool) ([][]float32, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	var resp *BatchEmbeddingResponse
	if batch {
		var err error
		resp, err = c.inner.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return nil, err
		}
	} else {
		emb, err := c.inner.GenerateEmbedding(ctx, EmbeddingRequest{Text: texts[0]})
		if err != nil {
			return nil, err
		}
		resp = &BatchEmbeddingResponse{Embeddings: []*Embedding{emb}}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if err := types.CheckDimension(emb.Vector, c.inner.Dimension()); err != nil {
			return nil, err
		}
		vectors[i] = cloneVector(emb.Vector)
	}
	return vectors, nil
}

// Warm runs the provider's load step, if it has one.
func (c *Cache) Warm(ctx context.Context) error {
	if w, ok := c.inner.(Warmer); ok {
		if err := w.Warm(ctx); err != nil {
			return fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, err)
		}
	}
	return nil
}

// Contains reports whether text is cached without touching recency.
func (c *Cache) Contains(text string) bool {
	return c.entries.Contains(text)
}

// Stats returns current usage counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Size:     c.entries.Len(),
		Capacity: c.capacity,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// GenerateEmbedding implements Embedder.
func (c *Cache) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	v, err := c.Embed(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	return c.wrap(req.Text, v), nil
}

// GenerateBatch implements Embedder.
func (c *Cache) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	vectors, err := c.EmbedBatch(ctx, req.Texts)
	if err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(vectors))
	for i, v := range vectors {
		embeddings[i] = c.wrap(req.Texts[i], v)
	}
	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   c.inner.Provider(),
		Model:      c.inner.Model(),
	}, nil
}

func (c *Cache) wrap(text string, v []float32) *Embedding {
	return &Embedding{
		Vector:    v,
		Dimension: len(v),
		Provider:  c.inner.Provider(),
		Model:     c.inner.Model(),
		Hash:      ComputeHash(text),
	}
}

func (c *Cache) Dimension() int   { return c.inner.Dimension() }
func (c *Cache) Provider() string { return c.inner.Provider() }
func (c *Cache) Model() string    { return c.inner.Model() }
func (c *Cache) Device() string   { return c.inner.Device() }
func (c *Cache) Close() error     { return c.inner.Close() }

var _ Embedder = (*Cache)(nil)
