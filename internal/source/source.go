package source

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// ItemErrorPolicy decides what a failed item does to the whole walk.
type ItemErrorPolicy int

const (
	// SkipOnItemError records the failure and continues.
	SkipOnItemError ItemErrorPolicy = iota
	// AbortOnItemError stops the walk at the first failed item.
	AbortOnItemError
)

func (p ItemErrorPolicy) String() string {
	if p == AbortOnItemError {
		return "abort"
	}
	return "skip"
}

// ParsePolicy maps "skip" and "abort" to a policy.
func ParsePolicy(s string) (ItemErrorPolicy, error) {
	switch s {
	case "skip":
		return SkipOnItemError, nil
	case "abort":
		return AbortOnItemError, nil
	}
	return 0, errors.New("item error policy must be skip or abort")
}

// SkipRecord describes one item left out of a walk.
type SkipRecord struct {
	Path string
	Err  error
}

// DataSource yields markdown documents one at a time.
type DataSource interface {
	Kind() types.SourceKind
	// Walk calls fn for each document in a deterministic order. An error
	// from fn stops the walk and is returned unchanged. Source-level
	// failures are returned as fatal *types.AcquisitionError values.
	Walk(ctx context.Context, fn func(types.Document) error) error
	// Skipped lists items the last Walk left out.
	Skipped() []SkipRecord
}

// skipper applies an ItemErrorPolicy and keeps the skip list.
type skipper struct {
	policy  ItemErrorPolicy
	logger  *slog.Logger
	skipped []SkipRecord
}

func (s *skipper) reset() {
	s.skipped = nil
}

// item handles a failed item. It returns nil when the walk may continue.
func (s *skipper) item(path string, err error) error {
	acq := &types.AcquisitionError{Path: path, Err: err}
	if s.policy == AbortOnItemError {
		return acq
	}
	s.logger.Warn("skipping item", "path", path, "error", err)
	s.skipped = append(s.skipped, SkipRecord{Path: path, Err: acq})
	return nil
}

func (s *skipper) Skipped() []SkipRecord {
	out := make([]SkipRecord, len(s.skipped))
	copy(out, s.skipped)
	return out
}

func fatal(path string, err error) error {
	return &types.AcquisitionError{Path: path, Fatal: true, Err: err}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
