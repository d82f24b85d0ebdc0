package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/vecsearch-mcp/internal/chunker"
	"github.com/dshills/vecsearch-mcp/internal/embedder"
	"github.com/dshills/vecsearch-mcp/internal/observability"
	"github.com/dshills/vecsearch-mcp/internal/source"
	"github.com/dshills/vecsearch-mcp/internal/storage"
	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// StoreFactory creates an empty index file of the given dimension.
type StoreFactory func(path string, dimension int, tuning storage.Tuning) (storage.Writer, error)

// Indexer coordinates the build pipeline: acquire -> chunk -> embed -> store
type Indexer struct {
	create   StoreFactory
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	logger   *slog.Logger

	lock IndexLock
}

// BuildOptions configures a single build
type BuildOptions struct {
	Path      string         // Final index file; replaced atomically on success
	Tuning    storage.Tuning // Connection PRAGMAs for the staging file
	Workers   int            // Concurrent embedding requests per document (default: runtime.NumCPU())
	BatchSize int            // Chunks per embedding request (default: embedder.DefaultBatchSize)

	// Progress, when set, is called after each document with running totals
	Progress func(documents, chunks int)
}

// Summary contains statistics about a finished build
type Summary struct {
	Documents     int
	Skipped       int
	ChunksIndexed int
	Errors        []string
	Duration      time.Duration
	Path          string
}

// New creates a new Indexer. A nil factory uses storage.Create.
func New(create StoreFactory, ch *chunker.Chunker, emb embedder.Embedder, logger *slog.Logger) *Indexer {
	if create == nil {
		create = func(path string, dimension int, tuning storage.Tuning) (storage.Writer, error) {
			return storage.Create(path, dimension, tuning)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		create:   create,
		chunker:  ch,
		embedder: emb,
		logger:   logger,
	}
}

// Build indexes every document src yields into a fresh file and, on
// success, renames it over opts.Path. On any failure the staging file is
// removed and an existing index at opts.Path is left untouched.
func (idx *Indexer) Build(ctx context.Context, src source.DataSource, opts BuildOptions) (*Summary, error) {
	ctx, span := observability.StartBuildSpan(ctx, string(src.Kind()), opts.Path)
	defer span.End()

	summary, err := idx.build(ctx, src, opts)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordBuildResult(span, summary.Documents, summary.Skipped, summary.ChunksIndexed)
	return summary, nil
}

func (idx *Indexer) build(ctx context.Context, src source.DataSource, opts BuildOptions) (*Summary, error) {
	if !idx.lock.TryAcquire() {
		return nil, types.ErrBuildInProgress
	}
	defer idx.lock.Release()

	if opts.Path == "" {
		return nil, errors.New("index path is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 || opts.BatchSize > embedder.MaxBatchSize {
		opts.BatchSize = embedder.DefaultBatchSize
	}

	startTime := time.Now()
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	// Rollback journal on the staging file so nothing but the file
	// itself has to move on rename
	tuning := opts.Tuning
	tuning.JournalMode = "DELETE"

	staging := fmt.Sprintf("%s.%s.tmp", opts.Path, uuid.NewString())
	store, err := idx.create(staging, idx.embedder.Dimension(), tuning)
	if err != nil {
		removeStaging(staging)
		return nil, fmt.Errorf("failed to create staging index: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = store.Close()
			removeStaging(staging)
		}
	}()

	if err := store.SetMetadata(ctx, map[string]string{
		storage.MetaProvider:  idx.embedder.Provider(),
		storage.MetaModel:     idx.embedder.Model(),
		storage.MetaChunkSize: strconv.Itoa(idx.chunker.MaxSize()),
	}); err != nil {
		return nil, err
	}

	idx.logger.Info("build started", "source", src.Kind(), "path", opts.Path, "dimension", idx.embedder.Dimension())

	summary := &Summary{Path: opts.Path, Errors: make([]string, 0)}
	walkErr := src.Walk(ctx, func(doc types.Document) error {
		// Cancellation is honoured between documents only
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := idx.indexDocument(context.WithoutCancel(ctx), store, doc, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", doc.Name, err)
		}

		summary.Documents++
		summary.ChunksIndexed += n
		if opts.Progress != nil {
			opts.Progress(summary.Documents, summary.ChunksIndexed)
		}
		return nil
	})

	for _, skip := range src.Skipped() {
		summary.Skipped++
		summary.Errors = append(summary.Errors, skip.Err.Error())
	}
	summary.Duration = time.Since(startTime)

	if walkErr != nil {
		idx.logger.Error("build aborted", "error", walkErr, "documents", summary.Documents)
		return nil, fmt.Errorf("build aborted: %w", walkErr)
	}

	if summary.ChunksIndexed == 0 {
		idx.logger.Warn("build produced no chunks", "documents", summary.Documents, "skipped", summary.Skipped)
		return nil, types.ErrEmptyCorpus
	}

	if err := store.Verify(ctx); err != nil {
		return nil, err
	}
	if err := store.Close(); err != nil {
		return nil, fmt.Errorf("%w: close staging index: %w", types.ErrStoreWrite, err)
	}
	if err := os.Rename(staging, opts.Path); err != nil {
		return nil, fmt.Errorf("%w: replace index: %w", types.ErrStoreWrite, err)
	}
	committed = true

	summary.Duration = time.Since(startTime)
	idx.logger.Info("build finished",
		"documents", summary.Documents,
		"skipped", summary.Skipped,
		"chunks", summary.ChunksIndexed,
		"duration", summary.Duration)

	return summary, nil
}

// indexDocument chunks, embeds and stores one document in one transaction.
func (idx *Indexer) indexDocument(ctx context.Context, store storage.Writer, doc types.Document, opts BuildOptions) (int, error) {
	if !doc.Source.Valid() {
		return 0, fmt.Errorf("unknown source kind %q", doc.Source)
	}
	if doc.IsBlank() {
		idx.logger.Debug("document has no text", "name", doc.Name)
		return 0, nil
	}

	chunks := idx.chunker.ChunkDocument(doc)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := idx.embed(ctx, texts, opts)
	if err != nil {
		return 0, err
	}

	entries := make([]storage.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = storage.IndexEntry{
			Vector:  vectors[i],
			Payload: types.PayloadFor(doc, c),
		}
	}

	if _, err := store.InsertBatch(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// embed runs batches concurrently and returns vectors in input order.
// Repeated chunk texts are embedded once.
func (idx *Indexer) embed(ctx context.Context, texts []string, opts BuildOptions) ([][]float32, error) {
	slot := make([]int, len(texts))
	seen := make(map[string]int, len(texts))
	unique := make([]string, 0, len(texts))
	for i, text := range texts {
		j, ok := seen[text]
		if !ok {
			j = len(unique)
			seen[text] = j
			unique = append(unique, text)
		}
		slot[i] = j
	}
	vectors, err := idx.embedBatches(ctx, unique, opts)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, j := range slot {
		out[i] = vectors[j]
	}
	return out, nil
}

func (idx *Indexer) embedBatches(ctx context.Context, texts []string, opts BuildOptions) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for start := 0; start < len(texts); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(texts))
		g.Go(func() error {
			resp, err := idx.embedder.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts[start:end]})
			if err != nil {
				return err
			}
			if len(resp.Embeddings) != end-start {
				return fmt.Errorf("got %d embeddings for %d chunks", len(resp.Embeddings), end-start)
			}
			for i, emb := range resp.Embeddings {
				vectors[start+i] = emb.Vector
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, types.ErrEmbeddingFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingFailure, err)
	}
	return vectors, nil
}

// removeStaging deletes the staging file and any journal files beside it.
func removeStaging(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}
