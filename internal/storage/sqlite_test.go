package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

const testDim = 4

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Create(path, testDim, DefaultTuning())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(name string, vec ...float32) IndexEntry {
	return IndexEntry{
		Vector: vec,
		Payload: types.Payload{
			ChunkText: "text of " + name,
			Reference: "https://example.com/" + name,
			Name:      name + ".md",
			Source:    types.SourceLocal,
		},
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"), Tuning{})
	require.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "vecsearch build")
}

func TestCreateThenOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := Create(path, testDim, Tuning{})
	require.NoError(t, err)
	_, err = s.Insert(ctx, entry("a", 1, 0, 0, 0))
	require.NoError(t, err)
	require.NoError(t, s.SetMetadata(ctx, map[string]string{MetaProvider: "local", MetaModel: "m"}))
	require.NoError(t, s.Close())

	s, err = Open(path, Tuning{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, testDim, s.Dimension())
	assert.Equal(t, path, s.Path())

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RowCount)
	assert.Equal(t, 1, stats.MetadataCount)
	assert.Equal(t, CurrentSchemaVersion, stats.SchemaVersion)
	assert.Equal(t, "local", stats.Metadata[MetaProvider])
	assert.Equal(t, BuildMode, stats.BuildMode)
	assert.NotEmpty(t, stats.Engine)
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	s := setupTestDB(t)
	err := s.CreateIndex(context.Background(), testDim)
	assert.ErrorIs(t, err, types.ErrIndexExists)
}

func TestCreateIndex_InvalidDimension(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "x.db"), 0, Tuning{})
	assert.Error(t, err)
}

func TestInsertBatch_IDsMatchAcrossTables(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, []IndexEntry{
		entry("a", 1, 0, 0, 0),
		entry("b", 0, 1, 0, 0),
		entry("c", 0, 0, 1, 0),
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for _, id := range ids {
		var metaName, docName string
		require.NoError(t, s.db.QueryRowContext(ctx, "SELECT file_name FROM doc_metadata WHERE id = ?", id).Scan(&metaName))
		require.NoError(t, s.db.QueryRowContext(ctx, "SELECT file_name FROM docs WHERE rowid = ?", id).Scan(&docName))
		assert.Equal(t, metaName, docName)
	}
	assert.NoError(t, s.Verify(ctx))
}

func TestInsertBatch_Empty(t *testing.T) {
	s := setupTestDB(t)
	ids, err := s.InsertBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInsert_DimensionMismatch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, entry("short", 1, 2))
	require.ErrorIs(t, err, types.ErrDimensionMismatch)

	var de *types.DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, testDim, de.Want)
	assert.Equal(t, 2, de.Got)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.RowCount)
}

func TestInsertBatch_RollsBackOnFailure(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		CREATE TRIGGER fail_boom BEFORE INSERT ON doc_metadata
		WHEN NEW.url = 'boom'
		BEGIN SELECT RAISE(ABORT, 'boom'); END`)
	require.NoError(t, err)

	bad := entry("b", 0, 1, 0, 0)
	bad.Payload.Reference = "boom"

	_, err = s.InsertBatch(ctx, []IndexEntry{entry("a", 1, 0, 0, 0), bad})
	require.ErrorIs(t, err, types.ErrStoreWrite)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.RowCount)
	assert.Zero(t, stats.MetadataCount)
}

func TestSearch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, []IndexEntry{
		entry("far", 0, 0, 0, 1),
		entry("exact", 1, 0, 0, 0),
		entry("near", 0.9, 0.1, 0, 0),
	})
	require.NoError(t, err)

	t.Run("identical vector ranks first", func(t *testing.T) {
		matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		require.Len(t, matches, 3)

		assert.Equal(t, ids[1], matches[0].ID)
		assert.InDelta(t, 0.0, matches[0].Distance, 1e-6)
		assert.Equal(t, "exact.md", matches[0].Payload.Name)
		assert.Equal(t, "https://example.com/exact", matches[0].Payload.Reference)
		assert.Equal(t, types.SourceLocal, matches[0].Payload.Source)
		assert.Equal(t, "near.md", matches[1].Payload.Name)
		assert.Equal(t, "far.md", matches[2].Payload.Name)

		for i := 1; i < len(matches); i++ {
			assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
		}
	})

	t.Run("k limits results", func(t *testing.T) {
		matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, 1)
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("non-positive k", func(t *testing.T) {
		matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, 0)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := s.Search(ctx, []float32{1, 0}, 3)
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	})
}

func TestSearch_EmptyIndex(t *testing.T) {
	s := setupTestDB(t)
	matches, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestVerify_DetectsDivergence(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []IndexEntry{entry("a", 1, 0, 0, 0), entry("b", 0, 1, 0, 0)})
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, "DELETE FROM doc_metadata WHERE id = (SELECT MAX(id) FROM doc_metadata)")
	require.NoError(t, err)

	err = s.Verify(ctx)
	require.ErrorIs(t, err, types.ErrStoreWrite)
	assert.Contains(t, err.Error(), "rebuild needed")
}

func TestSample(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []IndexEntry{
		entry("a", 1, 0, 0, 0), entry("b", 0, 1, 0, 0),
		entry("c", 0, 0, 1, 0), entry("d", 0, 0, 0, 1),
	})
	require.NoError(t, err)

	rows, err := s.Sample(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []SampleRow{
		{Name: "a.md", Source: "local"},
		{Name: "b.md", Source: "local"},
		{Name: "c.md", Source: "local"},
	}, rows)
}

func TestStats_ReportsTuning(t *testing.T) {
	s := setupTestDB(t)
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "wal", stats.Tuning["journal_mode"])
	assert.Equal(t, "1", stats.Tuning["synchronous"])
	assert.Equal(t, "20000", stats.Tuning["cache_size"])
	assert.Equal(t, "2", stats.Tuning["temp_store"])
	assert.Equal(t, "4096", stats.Tuning["page_size"])
	assert.Equal(t, testDim, stats.Dimension)
}

func TestOpen_IncompatibleSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := Create(path, testDim, Tuning{})
	require.NoError(t, err)
	require.NoError(t, s.SetMetadata(ctx, map[string]string{MetaSchemaVersion: "2.0.0"}))
	require.NoError(t, s.Close())

	_, err = Open(path, Tuning{})
	assert.ErrorIs(t, err, types.ErrRebuildNeeded)
}

func TestOpen_NotAnIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.db")
	db, err := sql.Open(DriverName, path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE other (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, Tuning{})
	assert.ErrorIs(t, err, types.ErrRebuildNeeded)
}

func TestTuningValidate(t *testing.T) {
	tests := []struct {
		name    string
		tuning  Tuning
		wantErr bool
	}{
		{"defaults", Tuning{}, false},
		{"lowercase accepted", Tuning{JournalMode: "delete", Synchronous: "full"}, false},
		{"bad journal", Tuning{JournalMode: "WAL; DROP TABLE docs"}, true},
		{"bad sync", Tuning{Synchronous: "SOMETIMES"}, true},
		{"bad temp store", Tuning{TempStore: "DISK"}, true},
		{"page size not power of two", Tuning{PageSize: 3000}, true},
		{"negative mmap", Tuning{MmapSize: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tuning.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckSchemaVersion(t *testing.T) {
	assert.NoError(t, checkSchemaVersion("1.0.0"))
	assert.NoError(t, checkSchemaVersion("1.3.2"))
	assert.ErrorIs(t, checkSchemaVersion("2.0.0"), types.ErrRebuildNeeded)
	assert.ErrorIs(t, checkSchemaVersion("0.9.0"), types.ErrRebuildNeeded)
	assert.ErrorIs(t, checkSchemaVersion(""), types.ErrRebuildNeeded)
}
