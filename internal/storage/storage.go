package storage

import (
	"context"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// Store is the read side used by the search path.
type Store interface {
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
	Stats(ctx context.Context) (*Stats, error)
	Sample(ctx context.Context, n int) ([]SampleRow, error)
	Dimension() int
	Close() error
}

// Writer is the build side used by the indexer.
type Writer interface {
	Insert(ctx context.Context, entry IndexEntry) (int64, error)
	InsertBatch(ctx context.Context, entries []IndexEntry) ([]int64, error)
	SetMetadata(ctx context.Context, meta map[string]string) error
	Verify(ctx context.Context) error
	Dimension() int
	Close() error
}

// IndexEntry is one chunk ready for insertion.
type IndexEntry struct {
	Vector  []float32
	Payload types.Payload
}

// Match is one search hit. Distance is L2, lower is closer.
type Match struct {
	ID       int64
	Payload  types.Payload
	Distance float64
}

// SampleRow is a (file, source) pair from doc_metadata.
type SampleRow struct {
	Name   string `json:"file_name"`
	Source string `json:"source"`
}

// Stats describes an index file.
type Stats struct {
	Path          string            `json:"path"`
	RowCount      int               `json:"row_count"`
	MetadataCount int               `json:"metadata_count"`
	SizeBytes     int64             `json:"size_bytes"`
	Dimension     int               `json:"dimension"`
	SchemaVersion string            `json:"schema_version"`
	Engine        string            `json:"engine"`
	BuildMode     string            `json:"build_mode"`
	Metadata      map[string]string `json:"metadata"`
	Tuning        map[string]string `json:"tuning"`
}

// Tuning holds the connection PRAGMAs. They affect performance only.
type Tuning struct {
	JournalMode string
	Synchronous string
	CacheSize   int
	TempStore   string
	PageSize    int
	MmapSize    int64
}

// DefaultTuning matches the settings the index was benchmarked with.
func DefaultTuning() Tuning {
	return Tuning{
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		CacheSize:   20000,
		TempStore:   "MEMORY",
		PageSize:    4096,
		MmapSize:    256 << 20,
	}
}

// withDefaults fills zero fields from DefaultTuning.
func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.JournalMode == "" {
		t.JournalMode = d.JournalMode
	}
	if t.Synchronous == "" {
		t.Synchronous = d.Synchronous
	}
	if t.CacheSize == 0 {
		t.CacheSize = d.CacheSize
	}
	if t.TempStore == "" {
		t.TempStore = d.TempStore
	}
	if t.PageSize == 0 {
		t.PageSize = d.PageSize
	}
	if t.MmapSize == 0 {
		t.MmapSize = d.MmapSize
	}
	return t
}
