package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

var (
	journalModes = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	syncModes    = []string{"OFF", "NORMAL", "FULL", "EXTRA"}
	tempStores   = []string{"DEFAULT", "FILE", "MEMORY"}
)

// SQLiteStore is a single-file vector index.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	dimension int
	tuning    Tuning

	// writeMu serializes write transactions
	writeMu sync.Mutex
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Validate rejects PRAGMA values outside SQLite's accepted set.
func (t Tuning) Validate() error {
	t = t.withDefaults()
	if !oneOf(t.JournalMode, journalModes) {
		return fmt.Errorf("invalid journal_mode %q", t.JournalMode)
	}
	if !oneOf(t.Synchronous, syncModes) {
		return fmt.Errorf("invalid synchronous %q", t.Synchronous)
	}
	if !oneOf(t.TempStore, tempStores) {
		return fmt.Errorf("invalid temp_store %q", t.TempStore)
	}
	if t.PageSize < 512 || t.PageSize > 65536 || t.PageSize&(t.PageSize-1) != 0 {
		return fmt.Errorf("invalid page_size %d", t.PageSize)
	}
	if t.MmapSize < 0 {
		return fmt.Errorf("invalid mmap_size %d", t.MmapSize)
	}
	return nil
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// pragmas lists statements in the order they must run: page_size only
// takes effect before the first table and before WAL is enabled.
func (t Tuning) pragmas() []string {
	return []string{
		fmt.Sprintf("PRAGMA page_size=%d", t.PageSize),
		fmt.Sprintf("PRAGMA journal_mode=%s", strings.ToUpper(t.JournalMode)),
		fmt.Sprintf("PRAGMA synchronous=%s", strings.ToUpper(t.Synchronous)),
		fmt.Sprintf("PRAGMA cache_size=%d", t.CacheSize),
		fmt.Sprintf("PRAGMA temp_store=%s", strings.ToUpper(t.TempStore)),
		fmt.Sprintf("PRAGMA mmap_size=%d", t.MmapSize),
	}
}

// openDatabase opens a SQLite database with the given tuning applied
func openDatabase(path string, tuning Tuning) (*sql.DB, error) {
	if err := tuning.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}

	// PRAGMAs are per connection; one connection keeps them in force
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range tuning.pragmas() {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}

	return db, nil
}

// Open opens an existing index file for searching.
func Open(path string, tuning Tuning) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w (%s)", types.ErrStoreUnavailable, path)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}

	tuning = tuning.withDefaults()
	db, err := openDatabase(path, tuning)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", types.ErrStoreUnavailable, err)
	}

	s := &SQLiteStore{db: db, path: path, tuning: tuning}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Create makes a new index file at path with an empty schema.
func Create(path string, dimension int, tuning Tuning) (*SQLiteStore, error) {
	tuning = tuning.withDefaults()
	db, err := openDatabase(path, tuning)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, tuning: tuning}
	if err := s.CreateIndex(context.Background(), dimension); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// load reads index_meta and checks the file is usable by this build.
func (s *SQLiteStore) load(ctx context.Context) error {
	ok, err := hasSchema(ctx, s.db)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s has no index metadata", types.ErrRebuildNeeded, s.path)
	}

	meta, err := readMeta(ctx, s.db)
	if err != nil {
		return err
	}
	if err := checkSchemaVersion(meta[MetaSchemaVersion]); err != nil {
		return err
	}

	// A plain-table index cannot be searched through vec0 and vice versa
	if mode := meta[MetaBuildMode]; (mode == "cgo") != VectorExtensionAvailable {
		return fmt.Errorf("%w: index built in %s mode, this binary is %s", types.ErrRebuildNeeded, mode, BuildMode)
	}

	dim, err := strconv.Atoi(meta[MetaDimension])
	if err != nil || dim <= 0 {
		return fmt.Errorf("%w: bad dimension %q", types.ErrRebuildNeeded, meta[MetaDimension])
	}
	s.dimension = dim
	return nil
}

// CreateIndex creates the schema for vectors of the given dimension.
func (s *SQLiteStore) CreateIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ok, err := hasSchema(ctx, s.db)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", types.ErrIndexExists, s.path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createSchema(ctx, tx, dimension); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	s.dimension = dimension
	return nil
}

// Insert writes one entry to both tables and returns its id.
func (s *SQLiteStore) Insert(ctx context.Context, entry IndexEntry) (int64, error) {
	ids, err := s.InsertBatch(ctx, []IndexEntry{entry})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertBatch writes all entries in one transaction. Either every entry
// lands in both tables or none does.
func (s *SQLiteStore) InsertBatch(ctx context.Context, entries []IndexEntry) ([]int64, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	for _, e := range entries {
		if err := types.CheckDimension(e.Vector, s.dimension); err != nil {
			return nil, err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := insertEntry(ctx, tx, e)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", types.ErrStoreWrite, err)
	}
	return ids, nil
}

// insertEntry writes the metadata row first and reuses its id as the
// vector rowid so the two tables share keys.
func insertEntry(ctx context.Context, q querier, e IndexEntry) (int64, error) {
	p := e.Payload
	result, err := q.ExecContext(ctx,
		"INSERT INTO doc_metadata (url, file_name, source, chunk_text) VALUES (?, ?, ?, ?)",
		p.Reference, p.Name, string(p.Source), p.ChunkText)
	if err != nil {
		return 0, fmt.Errorf("insert metadata: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	blob, err := encodeVector(e.Vector)
	if err != nil {
		return 0, fmt.Errorf("encode vector: %w", err)
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO docs (rowid, embedding, chunk_text, url, file_name, source) VALUES (?, ?, ?, ?, ?, ?)",
		id, blob, p.ChunkText, p.Reference, p.Name, string(p.Source))
	if err != nil {
		return 0, fmt.Errorf("insert vector: %w", err)
	}
	return id, nil
}

// SetMetadata records extra index_meta keys such as provider and model.
func (s *SQLiteStore) SetMetadata(ctx context.Context, meta map[string]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for k, v := range meta {
		if err := putMeta(ctx, s.db, k, v); err != nil {
			return fmt.Errorf("%w: %w", types.ErrStoreWrite, err)
		}
	}
	return nil
}

// Search returns up to k nearest chunks, nearest first.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if err := types.CheckDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}
	return searchVectors(ctx, s.db, query, k)
}

// Verify checks the vector and metadata tables agree.
func (s *SQLiteStore) Verify(ctx context.Context) error {
	docs, meta, err := s.counts(ctx)
	if err != nil {
		return err
	}
	if docs != meta {
		return fmt.Errorf("%w: rebuild needed: %d vectors but %d metadata rows", types.ErrStoreWrite, docs, meta)
	}
	return nil
}

func (s *SQLiteStore) counts(ctx context.Context) (docs, meta int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM docs").Scan(&docs); err != nil {
		return 0, 0, fmt.Errorf("failed to count docs: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM doc_metadata").Scan(&meta); err != nil {
		return 0, 0, fmt.Errorf("failed to count doc_metadata: %w", err)
	}
	return docs, meta, nil
}

// Stats reports counts, file size, engine and the live PRAGMA values.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	docs, meta, err := s.counts(ctx)
	if err != nil {
		return nil, err
	}

	md, err := readMeta(ctx, s.db)
	if err != nil {
		return nil, err
	}

	engine, err := engineVersion(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine version: %w", err)
	}

	var size int64
	if fi, err := os.Stat(s.path); err == nil {
		size = fi.Size()
	}

	tuning, err := readTuning(ctx, s.db)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Path:          s.path,
		RowCount:      docs,
		MetadataCount: meta,
		SizeBytes:     size,
		Dimension:     s.dimension,
		SchemaVersion: md[MetaSchemaVersion],
		Engine:        engine,
		BuildMode:     BuildMode,
		Metadata:      md,
		Tuning:        tuning,
	}, nil
}

// Sample returns the first n (file, source) pairs.
func (s *SQLiteStore) Sample(ctx context.Context, n int) ([]SampleRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file_name, source FROM doc_metadata ORDER BY id LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("failed to sample metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]SampleRow, 0, n)
	for rows.Next() {
		var r SampleRow
		if err := rows.Scan(&r.Name, &r.Source); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Dimension returns the vector length this index accepts.
func (s *SQLiteStore) Dimension() int { return s.dimension }

// Path returns the file backing the store.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func readMeta(ctx context.Context, q querier) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT key, value FROM index_meta")
	if err != nil {
		return nil, fmt.Errorf("failed to read index_meta: %w", err)
	}
	defer func() { _ = rows.Close() }()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func readTuning(ctx context.Context, q querier) (map[string]string, error) {
	names := []string{"journal_mode", "synchronous", "cache_size", "temp_store", "page_size", "mmap_size"}
	out := make(map[string]string, len(names))
	for _, name := range names {
		var v string
		err := q.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			// mmap_size returns no row when mmap is compiled out
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read PRAGMA %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Writer = (*SQLiteStore)(nil)
)
