package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dshills/vecsearch-mcp/internal/embedder"
	"github.com/dshills/vecsearch-mcp/internal/observability"
	"github.com/dshills/vecsearch-mcp/internal/storage"
	"github.com/dshills/vecsearch-mcp/pkg/types"
)

const (
	DefaultK = 5
	MaxK     = 100

	DefaultSlowEmbedding = 100 * time.Millisecond
	DefaultSlowStore     = 50 * time.Millisecond

	// warmupQuery is embedded and searched once before the first real query
	warmupQuery = "test"

	// sampleSize is the number of (file, source) pairs in a Snapshot
	sampleSize = 3
)

// Opener opens the index the searcher queries.
type Opener func() (storage.Store, error)

// OpenFile returns an Opener for the index file at path.
func OpenFile(path string, tuning storage.Tuning) Opener {
	return func() (storage.Store, error) {
		return storage.Open(path, tuning)
	}
}

// Options configures a Searcher. Zero values select the defaults.
type Options struct {
	DefaultK int
	MaxK     int

	// Thresholds above which Timing flags a phase as slow
	SlowEmbedding time.Duration
	SlowStore     time.Duration

	// QueryTimeout bounds each query when positive
	QueryTimeout time.Duration

	LogTiming bool
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DefaultK <= 0 {
		o.DefaultK = DefaultK
	}
	if o.MaxK <= 0 {
		o.MaxK = MaxK
	}
	if o.SlowEmbedding <= 0 {
		o.SlowEmbedding = DefaultSlowEmbedding
	}
	if o.SlowStore <= 0 {
		o.SlowStore = DefaultSlowStore
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Timing breaks down the latency of one query.
type Timing struct {
	Embedding     time.Duration `json:"embedding"`
	Store         time.Duration `json:"store"`
	Total         time.Duration `json:"total"`
	Results       int           `json:"results"`
	CacheHit      bool          `json:"cache_hit"`
	SlowEmbedding bool          `json:"slow_embedding"`
	SlowStore     bool          `json:"slow_store"`
}

// Response is a result list with its timing.
type Response struct {
	Results []types.QueryResult
	Timing  Timing
}

// Snapshot describes the searcher and the index it serves.
type Snapshot struct {
	Index       *storage.Stats      `json:"index,omitempty"`
	IndexError  string              `json:"index_error,omitempty"`
	SampleFiles []storage.SampleRow `json:"sample_files,omitempty"`
	Cache       embedder.CacheStats `json:"cache"`
	Provider    string              `json:"provider"`
	Model       string              `json:"model"`
	Device      string              `json:"device"`
	Dimension   int                 `json:"dimension"`
	Warmed      bool                `json:"warmed"`
}

// Searcher answers nearest-neighbour queries against one index.
// It is safe for concurrent use.
type Searcher struct {
	open   Opener
	cache  *embedder.Cache
	opts   Options
	logger *slog.Logger

	// mu guards store and warmed. Queries hold the read lock for their
	// whole run so Reload and Close cannot close the store under them.
	mu     sync.RWMutex
	store  storage.Store
	warmed bool
}

// New creates a Searcher that opens its index on first use. A failed
// open is retried on the next query, so a server can start before the
// first build.
func New(open Opener, cache *embedder.Cache, opts Options) *Searcher {
	opts = opts.withDefaults()
	return &Searcher{
		open:   open,
		cache:  cache,
		opts:   opts,
		logger: opts.Logger,
	}
}

// NewSearcher creates a Searcher over an already open store.
func NewSearcher(store storage.Store, cache *embedder.Cache, opts Options) *Searcher {
	s := New(func() (storage.Store, error) { return store, nil }, cache, opts)
	s.store = store
	return s
}

// Search returns up to k results nearest to query, nearest first.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]types.QueryResult, error) {
	resp, err := s.SearchWithTiming(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchWithTiming is Search with a per-phase latency breakdown.
func (s *Searcher) SearchWithTiming(ctx context.Context, query string, k int) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrInvalidQuery
	}
	k = s.clampK(k)

	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}

	ctx, span := observability.StartSearchSpan(ctx, query, k)
	defer span.End()

	resp, err := s.search(ctx, query, k)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return resp, nil
}

func (s *Searcher) search(ctx context.Context, query string, k int) (*Response, error) {
	var resp *Response
	err := s.withStore(ctx, true, func(store storage.Store) error {
		var err error
		resp, err = s.query(ctx, store, query, k)
		return err
	})
	return resp, err
}

func (s *Searcher) query(ctx context.Context, store storage.Store, query string, k int) (*Response, error) {
	start := time.Now()
	var timing Timing

	timing.CacheHit = s.cache.Contains(query)
	ectx, espan := observability.StartEmbedSpan(ctx, s.cache.Provider(), s.cache.Model())
	vector, err := s.cache.Embed(ectx, query)
	observability.RecordError(espan, err)
	espan.End()
	timing.Embedding = time.Since(start)
	if err != nil {
		return nil, err
	}

	storeStart := time.Now()
	sctx, sspan := observability.StartStoreSpan(ctx, k)
	matches, err := store.Search(sctx, vector, k)
	observability.RecordError(sspan, err)
	sspan.End()
	timing.Store = time.Since(storeStart)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]types.QueryResult, len(matches))
	for i, m := range matches {
		results[i] = types.QueryResult{
			Text:      m.Payload.ChunkText,
			Reference: m.Payload.Reference,
			Name:      m.Payload.Name,
			Source:    m.Payload.Source,
			Distance:  m.Distance,
		}
	}

	timing.Total = time.Since(start)
	timing.Results = len(results)
	timing = s.classify(timing)

	if s.opts.LogTiming {
		s.logTiming(query, timing)
	}

	return &Response{Results: results, Timing: timing}, nil
}

// Envelope runs Search and folds any failure into the response.
func (s *Searcher) Envelope(ctx context.Context, query string, k int) types.SearchResponse {
	results, err := s.Search(ctx, query, k)
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		return types.NewErrorResponse(fmt.Errorf("search error: %w", err))
	}
	return types.NewResultResponse(results)
}

// Warm embeds a sample query and runs a k=1 search so the first real query
// does not pay for model load and cold pages. It is a no-op once it has
// succeeded; a failure leaves the searcher cold.
func (s *Searcher) Warm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.storeLocked()
	if err != nil {
		return err
	}
	if s.warmed {
		return nil
	}

	start := time.Now()
	s.logger.Info("warming up search engine")
	if err := s.cache.Warm(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	vector, err := s.cache.Embed(ctx, warmupQuery)
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	if _, err := store.Search(ctx, vector, 1); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}

	s.warmed = true
	s.logger.Info("warmup complete", "duration", time.Since(start))
	return nil
}

// withStore runs fn under the read lock with the index open, and warmed
// when warm is set.
func (s *Searcher) withStore(ctx context.Context, warm bool, fn func(storage.Store) error) error {
	for {
		s.mu.RLock()
		if s.store != nil && (s.warmed || !warm) {
			defer s.mu.RUnlock()
			return fn(s.store)
		}
		s.mu.RUnlock()

		// A Reload may slip in before the read lock is retaken; loop
		if err := s.prepare(ctx, warm); err != nil {
			return err
		}
	}
}

func (s *Searcher) prepare(ctx context.Context, warm bool) error {
	if warm {
		return s.Warm(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.storeLocked()
	return err
}

// storeLocked opens the index if needed. Caller holds s.mu.
func (s *Searcher) storeLocked() (storage.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := s.open()
	if err != nil {
		if !errors.Is(err, types.ErrStoreUnavailable) && !errors.Is(err, types.ErrRebuildNeeded) {
			err = fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	if store.Dimension() != s.cache.Dimension() {
		_ = store.Close()
		return nil, fmt.Errorf("%w: index has %d, embedder produces %d",
			types.ErrRebuildNeeded, store.Dimension(), s.cache.Dimension())
	}
	s.store = store
	return store, nil
}

// Reload closes the current index so the next query reopens it. Call it
// after a rebuild has replaced the file.
func (s *Searcher) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.warmed = false
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

// Warmed reports whether warmup has completed.
func (s *Searcher) Warmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warmed
}

// Snapshot reports index statistics, cache usage and provider details.
// An unavailable index is reported in IndexError rather than as an error.
func (s *Searcher) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Cache:     s.cache.Stats(),
		Provider:  s.cache.Provider(),
		Model:     s.cache.Model(),
		Device:    s.cache.Device(),
		Dimension: s.cache.Dimension(),
	}

	if err := s.prepare(ctx, false); err != nil {
		snap.IndexError = err.Error()
		snap.Warmed = s.Warmed()
		return snap, nil
	}

	err := s.withStore(ctx, false, func(store storage.Store) error {
		snap.Warmed = s.warmed
		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read index stats: %w", err)
		}
		snap.Index = stats

		sample, err := store.Sample(ctx, sampleSize)
		if err != nil {
			return err
		}
		snap.SampleFiles = sample
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Close releases the index. The embedding cache is owned by the caller.
func (s *Searcher) Close() error {
	return s.Reload()
}

func (s *Searcher) clampK(k int) int {
	if k <= 0 {
		return s.opts.DefaultK
	}
	return min(k, s.opts.MaxK)
}

// classify sets the slow flags from the configured thresholds.
func (s *Searcher) classify(t Timing) Timing {
	t.SlowEmbedding = t.Embedding > s.opts.SlowEmbedding
	t.SlowStore = t.Store > s.opts.SlowStore
	return t
}

func (s *Searcher) logTiming(query string, t Timing) {
	s.logger.Info("search timing",
		"query", query,
		"embedding", t.Embedding,
		"cache_hit", t.CacheHit,
		"store", t.Store,
		"total", t.Total,
		"results", t.Results)
	if t.SlowEmbedding {
		s.logger.Warn("embedding may be slow", "duration", t.Embedding, "threshold", s.opts.SlowEmbedding)
	}
	if t.SlowStore {
		s.logger.Warn("store search may be slow", "duration", t.Store, "threshold", s.opts.SlowStore)
	}
}
