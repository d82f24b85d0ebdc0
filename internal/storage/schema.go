package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

const (
	// CurrentSchemaVersion tracks the index file layout
	CurrentSchemaVersion = "1.0.0"

	// compatibleSchemas accepts any file this build can read
	compatibleSchemas = "^1.0.0"
)

// index_meta keys
const (
	MetaDimension     = "dimension"
	MetaSchemaVersion = "schema_version"
	MetaCreatedAt     = "created_at"
	MetaProvider      = "provider"
	MetaModel         = "model"
	MetaBuildMode     = "build_mode"
	MetaChunkSize     = "chunk_size"
)

const indexMetaDDL = `
CREATE TABLE index_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

const metadataDDL = `
CREATE TABLE doc_metadata (
    id INTEGER PRIMARY KEY,
    url TEXT,
    file_name TEXT,
    source TEXT,
    chunk_text TEXT
)`

// vectorTableDDL returns the docs table definition for this build.
func vectorTableDDL(dimension int) string {
	if VectorExtensionAvailable {
		return fmt.Sprintf(`
CREATE VIRTUAL TABLE docs USING vec0(
    embedding float[%d],
    chunk_text TEXT,
    url TEXT,
    file_name TEXT,
    source TEXT
)`, dimension)
	}
	return `
CREATE TABLE docs (
    id INTEGER PRIMARY KEY,
    embedding BLOB NOT NULL,
    chunk_text TEXT,
    url TEXT,
    file_name TEXT,
    source TEXT
)`
}

// createSchema creates all tables and records the index metadata.
func createSchema(ctx context.Context, q querier, dimension int) error {
	for _, ddl := range []string{indexMetaDDL, vectorTableDDL(dimension), metadataDDL} {
		if _, err := q.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	meta := map[string]string{
		MetaDimension:     fmt.Sprint(dimension),
		MetaSchemaVersion: CurrentSchemaVersion,
		MetaCreatedAt:     time.Now().UTC().Format(time.RFC3339),
		MetaBuildMode:     BuildMode,
	}
	for k, v := range meta {
		if err := putMeta(ctx, q, k, v); err != nil {
			return err
		}
	}
	return nil
}

func putMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO index_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write index_meta %s: %w", key, err)
	}
	return nil
}

// hasSchema reports whether index_meta exists.
func hasSchema(ctx context.Context, q querier) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='index_meta'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check index_meta table: %w", err)
	}
	return true, nil
}

// checkSchemaVersion rejects files written by an incompatible layout.
func checkSchemaVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: invalid schema version %q", types.ErrRebuildNeeded, version)
	}

	c, err := semver.NewConstraint(compatibleSchemas)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: schema %s, this build reads %s", types.ErrRebuildNeeded, v, compatibleSchemas)
	}
	return nil
}
