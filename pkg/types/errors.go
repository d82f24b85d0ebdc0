package types

import (
	"errors"
	"fmt"
)

// Domain errors shared by the ingestion and query paths
var (
	// ErrDataAcquisition is returned when a document or the whole data source could not be read
	ErrDataAcquisition = errors.New("data acquisition failed")
	// ErrStoreUnavailable is returned when the index file does not exist
	ErrStoreUnavailable = errors.New("index store unavailable: run `vecsearch build` first")
	// ErrDimensionMismatch is returned when a vector length differs from the index dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingFailure is returned when the embedding provider fails
	ErrEmbeddingFailure = errors.New("embedding failed")
	// ErrStoreWrite is returned when the paired vector/metadata write could not be committed
	ErrStoreWrite = errors.New("index write failed")
	// ErrEmptyCorpus is returned when a build produced zero chunks
	ErrEmptyCorpus = errors.New("no text to index: data source produced zero chunks")

	ErrIndexExists     = errors.New("index already exists")
	ErrRebuildNeeded   = errors.New("index is incompatible or inconsistent: rebuild needed")
	ErrBuildInProgress = errors.New("another build is already running")
	ErrInvalidQuery    = errors.New("query cannot be empty")
)

// AcquisitionError describes a failure to obtain documents from a data source.
// Fatal errors affect the whole source (connectivity, missing root) and abort a
// build; non-fatal errors affect a single item.
type AcquisitionError struct {
	Path  string
	Fatal bool
	Err   error
}

func (e *AcquisitionError) Error() string {
	scope := "item"
	if e.Fatal {
		scope = "source"
	}
	if e.Path == "" {
		return fmt.Sprintf("%s (%s): %v", ErrDataAcquisition, scope, e.Err)
	}
	return fmt.Sprintf("%s (%s %s): %v", ErrDataAcquisition, scope, e.Path, e.Err)
}

// Unwrap allows errors.Is to match both ErrDataAcquisition and the cause
func (e *AcquisitionError) Unwrap() []error {
	return []error{ErrDataAcquisition, e.Err}
}

// DimensionError reports the expected and actual vector lengths
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: want %d, got %d", ErrDimensionMismatch, e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}

// CheckDimension returns a *DimensionError when len(vec) != want
func CheckDimension(vec []float32, want int) error {
	if len(vec) != want {
		return &DimensionError{Want: want, Got: len(vec)}
	}
	return nil
}

// IsFatalAcquisition reports whether err is a source-level acquisition failure
func IsFatalAcquisition(err error) bool {
	var acq *AcquisitionError
	if errors.As(err, &acq) {
		return acq.Fatal
	}
	return false
}
