//go:build sqlite_vec
// +build sqlite_vec

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// The sqlite-vec extension is statically linked and auto-registered on
// every connection, so the docs table is a vec0 virtual table and KNN
// queries run inside SQLite.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	"context"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sqlite_vec.Auto()
}

// encodeVector serializes a vector in the layout vec0 expects.
func encodeVector(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}

// engineVersion reports the loaded sqlite-vec version.
func engineVersion(ctx context.Context, q querier) (string, error) {
	var version string
	if err := q.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		return "", err
	}
	return "sqlite-vec " + version, nil
}
