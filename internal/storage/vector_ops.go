package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// searchVectors returns the k nearest rows by L2 distance, nearest first.
func searchVectors(ctx context.Context, q querier, query []float32, k int) ([]Match, error) {
	// Use the vec0 KNN query when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorsNative(ctx, q, query, k)
	}
	// Fall back to a Go scan for purego builds
	return searchVectorsFallback(ctx, q, query, k)
}

// searchVectorsNative runs a vec0 KNN query. vec0 returns L2 distance.
func searchVectorsNative(ctx context.Context, q querier, query []float32, k int) ([]Match, error) {
	blob, err := encodeVector(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT rowid, chunk_text, url, file_name, source, distance
		FROM docs
		WHERE embedding MATCH ?
		  AND k = ?
		ORDER BY distance`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Match, 0, k)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Payload.ChunkText, &m.Payload.Reference,
			&m.Payload.Name, &m.Payload.Source, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// searchVectorsFallback scans every row and ranks in Go.
func searchVectorsFallback(ctx context.Context, q querier, query []float32, k int) ([]Match, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, embedding, chunk_text, url, file_name, source FROM docs")
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]Match, 0, 1024)
	for rows.Next() {
		var m Match
		var blob []byte
		if err := rows.Scan(&m.ID, &blob, &m.Payload.ChunkText, &m.Payload.Reference,
			&m.Payload.Name, &m.Payload.Source); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		vector := deserializeVector(blob)
		if len(vector) != len(query) {
			return nil, &types.DimensionError{Want: len(query), Got: len(vector)}
		}
		m.Distance = l2Distance(query, vector)
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortMatches(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// sortMatches orders by distance, then id so ties are stable across runs.
func sortMatches(m []Match) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Distance != m[j].Distance {
			return m[i].Distance < m[j].Distance
		}
		return m[i].ID < m[j].ID
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// l2Distance is the Euclidean distance, matching vec0's default metric.
func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
