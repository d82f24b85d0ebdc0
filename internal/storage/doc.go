// Package storage persists chunk vectors and their metadata in a single
// SQLite file.
//
// # Database Schema
//
// Tables:
//   - docs: the vector table. A sqlite-vec vec0 virtual table in the
//     sqlite_vec build, a plain table with little-endian float32 blobs
//     otherwise. Carries the embedding plus chunk_text, url, file_name
//     and source.
//   - doc_metadata: the same payload keyed by id. Ids equal docs rowids.
//   - index_meta: key/value pairs (dimension, schema_version, created_at,
//     provider, model, build_mode).
//
// Both builds rank by L2 distance, lower is closer.
//
// # Basic Usage
//
//	store, err := storage.Create(path, 2048, storage.DefaultTuning())
//	if err != nil {
//	    return err
//	}
//	ids, err := store.InsertBatch(ctx, entries) // one transaction
//	...
//	matches, err := store.Search(ctx, queryVector, 5)
//
// Open fails with types.ErrStoreUnavailable when the file does not exist
// and types.ErrRebuildNeeded when the file was written by an incompatible
// schema version or by the other build mode.
//
// # Build Modes
//
//	go build ./...                                   # modernc.org/sqlite, Go scan
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...    # mattn/go-sqlite3 + sqlite-vec
//
// # Concurrency
//
// The store holds one connection so its PRAGMAs stay in force. Write
// transactions are additionally serialized by a mutex.
package storage
