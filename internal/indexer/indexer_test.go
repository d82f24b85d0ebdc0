package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/vecsearch-mcp/internal/chunker"
	"github.com/dshills/vecsearch-mcp/internal/embedder"
	"github.com/dshills/vecsearch-mcp/internal/source"
	"github.com/dshills/vecsearch-mcp/internal/storage"
	"github.com/dshills/vecsearch-mcp/pkg/types"
)

const testDim = 8

// threeChunks splits into exactly three chunks at chunk size 6.
const threeChunks = "aaaa\nbbbb\ncccc\n"

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	*embedder.LocalProvider
	generateBatchErr error
	mu               sync.Mutex
	batchCalls       int
}

func newMockEmbedder() *mockEmbedder {
	p, _ := embedder.NewLocalProvider(testDim)
	return &mockEmbedder{LocalProvider: p}
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	m.batchCalls++
	m.mu.Unlock()
	if m.generateBatchErr != nil {
		return nil, m.generateBatchErr
	}
	return m.LocalProvider.GenerateBatch(ctx, req)
}

// sliceSource yields fixed documents, optionally blocking or failing.
type sliceSource struct {
	docs    []types.Document
	skipped []source.SkipRecord
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *sliceSource) Kind() types.SourceKind { return types.SourceLocal }

func (s *sliceSource) Walk(ctx context.Context, fn func(types.Document) error) error {
	if s.started != nil {
		close(s.started)
		<-s.release
	}
	for _, d := range s.docs {
		if err := fn(d); err != nil {
			return err
		}
	}
	return s.err
}

func (s *sliceSource) Skipped() []source.SkipRecord { return s.skipped }

func doc(name, body string) types.Document {
	return types.Document{Reference: "https://example.com/" + name, Body: body, Name: name, Source: types.SourceLocal}
}

func setupIndexer(t *testing.T, emb embedder.Embedder) (*Indexer, string) {
	t.Helper()
	idx := New(nil, chunker.New(6), emb, nil)
	return idx, filepath.Join(t.TempDir(), "index.db")
}

func openCounts(t *testing.T, path string) (int, int) {
	t.Helper()
	s, err := storage.Open(path, storage.Tuning{})
	require.NoError(t, err)
	defer s.Close()
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	return stats.RowCount, stats.MetadataCount
}

func assertNoStaging(t *testing.T, path string) {
	t.Helper()
	matches, err := filepath.Glob(path + ".*.tmp*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestBuild_TwoDocumentsThreeChunksEach(t *testing.T) {
	idx, path := setupIndexer(t, embedder.NewCache(newMockEmbedder(), embedder.CacheOptions{}))
	src := &sliceSource{docs: []types.Document{doc("a.md", threeChunks), doc("b.md", threeChunks)}}

	var progress [][2]int
	summary, err := idx.Build(context.Background(), src, BuildOptions{
		Path:     path,
		Progress: func(d, c int) { progress = append(progress, [2]int{d, c}) },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Documents)
	assert.Equal(t, 6, summary.ChunksIndexed)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, path, summary.Path)
	assert.Equal(t, [][2]int{{1, 3}, {2, 6}}, progress)

	rows, meta := openCounts(t, path)
	assert.Equal(t, 6, rows)
	assert.Equal(t, 6, meta)
	assertNoStaging(t, path)
}

func TestBuild_RecordsProviderMetadata(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	_, err := idx.Build(context.Background(), &sliceSource{docs: []types.Document{doc("a.md", "text")}}, BuildOptions{Path: path})
	require.NoError(t, err)

	s, err := storage.Open(path, storage.Tuning{})
	require.NoError(t, err)
	defer s.Close()
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, embedder.ProviderLocal, stats.Metadata[storage.MetaProvider])
	assert.Equal(t, embedder.DefaultLocalModel, stats.Metadata[storage.MetaModel])
	assert.Equal(t, "6", stats.Metadata[storage.MetaChunkSize])
	assert.Equal(t, testDim, stats.Dimension)
}

func TestBuild_SkipsMalformedLocalFile(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"1", "2", "3", "4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n+".md"), []byte("---\nurl: https://x/"+n+"\n---\n本文"+n+"。"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "5.md"), []byte{0xff, 0xfe}, 0o644))

	idx, path := setupIndexer(t, newMockEmbedder())
	summary, err := idx.Build(context.Background(), source.NewLocal(dir, source.SkipOnItemError, nil), BuildOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Documents)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "5.md")
	assert.Equal(t, 4, summary.ChunksIndexed)
}

func TestBuild_EmptyCorpusKeepsPriorIndex(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	ctx := context.Background()

	_, err := idx.Build(ctx, &sliceSource{docs: []types.Document{doc("a.md", threeChunks)}}, BuildOptions{Path: path})
	require.NoError(t, err)

	_, err = idx.Build(ctx, &sliceSource{docs: []types.Document{doc("blank.md", "  \n\n ")}}, BuildOptions{Path: path})
	require.ErrorIs(t, err, types.ErrEmptyCorpus)

	rows, _ := openCounts(t, path)
	assert.Equal(t, 3, rows)
	assertNoStaging(t, path)
}

func TestBuild_EmptyCorpusWithoutPriorIndex(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	_, err := idx.Build(context.Background(), &sliceSource{}, BuildOptions{Path: path})
	require.ErrorIs(t, err, types.ErrEmptyCorpus)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assertNoStaging(t, path)
}

func TestBuild_InProgress(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	src := &sliceSource{
		docs:    []types.Document{doc("a.md", "text")},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	done := make(chan error, 1)
	go func() {
		_, err := idx.Build(context.Background(), src, BuildOptions{Path: path})
		done <- err
	}()
	<-src.started

	_, err := idx.Build(context.Background(), &sliceSource{}, BuildOptions{Path: path})
	assert.ErrorIs(t, err, types.ErrBuildInProgress)

	close(src.release)
	require.NoError(t, <-done)
	assert.False(t, idx.lock.held())
}

func TestBuild_RebuildReplacesIndex(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	ctx := context.Background()

	_, err := idx.Build(ctx, &sliceSource{docs: []types.Document{doc("a.md", threeChunks), doc("b.md", threeChunks)}}, BuildOptions{Path: path})
	require.NoError(t, err)
	_, err = idx.Build(ctx, &sliceSource{docs: []types.Document{doc("c.md", "one")}}, BuildOptions{Path: path})
	require.NoError(t, err)

	rows, meta := openCounts(t, path)
	assert.Equal(t, 1, rows)
	assert.Equal(t, 1, meta)
}

func TestBuild_FatalSourceErrorAborts(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	src := &sliceSource{
		docs: []types.Document{doc("a.md", "text")},
		err:  &types.AcquisitionError{Path: "ftp.example.com:21", Fatal: true, Err: errors.New("connection reset")},
	}

	_, err := idx.Build(context.Background(), src, BuildOptions{Path: path})
	require.ErrorIs(t, err, types.ErrDataAcquisition)
	assert.True(t, types.IsFatalAcquisition(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assertNoStaging(t, path)
}

func TestBuild_EmbeddingFailureAborts(t *testing.T) {
	emb := newMockEmbedder()
	emb.generateBatchErr = errors.New("model unavailable")
	idx, path := setupIndexer(t, emb)

	_, err := idx.Build(context.Background(), &sliceSource{docs: []types.Document{doc("a.md", "text")}}, BuildOptions{Path: path})
	require.ErrorIs(t, err, types.ErrEmbeddingFailure)
	assert.Contains(t, err.Error(), "a.md")
	assertNoStaging(t, path)
}

// failingWriter fails every InsertBatch.
type failingWriter struct {
	storage.Writer
}

func (f failingWriter) InsertBatch(ctx context.Context, entries []storage.IndexEntry) ([]int64, error) {
	return nil, types.ErrStoreWrite
}

func TestBuild_StoreWriteFailureAborts(t *testing.T) {
	emb := newMockEmbedder()
	idx := New(func(path string, dim int, tuning storage.Tuning) (storage.Writer, error) {
		w, err := storage.Create(path, dim, tuning)
		if err != nil {
			return nil, err
		}
		return failingWriter{w}, nil
	}, chunker.New(0), emb, nil)
	path := filepath.Join(t.TempDir(), "index.db")

	_, err := idx.Build(context.Background(), &sliceSource{docs: []types.Document{doc("a.md", "text")}}, BuildOptions{Path: path})
	require.ErrorIs(t, err, types.ErrStoreWrite)
	assertNoStaging(t, path)
}

func TestBuild_CancelledBetweenDocuments(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	ctx, cancel := context.WithCancel(context.Background())

	summary, err := idx.Build(ctx, &sliceSource{docs: []types.Document{doc("a.md", "x"), doc("b.md", "y")}}, BuildOptions{
		Path:     path,
		Progress: func(int, int) { cancel() },
	})
	assert.Nil(t, summary)
	require.ErrorIs(t, err, context.Canceled)
	assertNoStaging(t, path)
}

func TestBuild_BlankDocumentsIndexNothing(t *testing.T) {
	emb := newMockEmbedder()
	idx, path := setupIndexer(t, emb)

	summary, err := idx.Build(context.Background(), &sliceSource{docs: []types.Document{
		doc("blank.md", " \n\t\n"),
		doc("a.md", threeChunks),
	}}, BuildOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
	assert.Equal(t, 3, summary.ChunksIndexed)
	assert.Equal(t, 1, emb.batchCalls)
}

func TestBuild_UnknownSourceKindAborts(t *testing.T) {
	idx, path := setupIndexer(t, newMockEmbedder())
	bad := doc("a.md", threeChunks)
	bad.Source = types.SourceKind("s3")

	_, err := idx.Build(context.Background(), &sliceSource{docs: []types.Document{bad}}, BuildOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source kind")
	assertNoStaging(t, path)
	assert.NoFileExists(t, path)
}

func TestBuild_RepeatedChunksEmbeddedOnce(t *testing.T) {
	emb := newMockEmbedder()
	idx, path := setupIndexer(t, emb)

	summary, err := idx.Build(context.Background(), &sliceSource{docs: []types.Document{doc("a.md", "aaaa\naaaa\nbbbb\n")}}, BuildOptions{
		Path:      path,
		BatchSize: 1,
		Workers:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ChunksIndexed)
	assert.Equal(t, 2, emb.batchCalls)

	rows, _ := openCounts(t, path)
	assert.Equal(t, 3, rows)
}

func TestBuild_BatchesPreserveOrder(t *testing.T) {
	emb := newMockEmbedder()
	idx, path := setupIndexer(t, emb)

	_, err := idx.Build(context.Background(), &sliceSource{docs: []types.Document{doc("a.md", threeChunks)}}, BuildOptions{
		Path:      path,
		BatchSize: 1,
		Workers:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, emb.batchCalls)

	s, err := storage.Open(path, storage.Tuning{})
	require.NoError(t, err)
	defer s.Close()

	// Each chunk is stored next to its own vector
	for _, text := range []string{"aaaa", "bbbb", "cccc"} {
		matches, err := s.Search(context.Background(), embedder.HashVector(text, testDim), 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, text, matches[0].Payload.ChunkText)
		assert.InDelta(t, 0, matches[0].Distance, 1e-5)
	}
}

func TestBuild_RequiresPath(t *testing.T) {
	idx := New(nil, chunker.New(0), newMockEmbedder(), nil)
	_, err := idx.Build(context.Background(), &sliceSource{}, BuildOptions{})
	assert.Error(t, err)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}
