package types

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquisitionError(t *testing.T) {
	tests := []struct {
		name      string
		err       *AcquisitionError
		wantFatal bool
		wantMsg   string
	}{
		{
			name:      "item failure",
			err:       &AcquisitionError{Path: "docs/a.md", Err: io.ErrUnexpectedEOF},
			wantFatal: false,
			wantMsg:   "data acquisition failed (item docs/a.md): unexpected EOF",
		},
		{
			name:      "source failure",
			err:       &AcquisitionError{Fatal: true, Err: errors.New("connection refused")},
			wantFatal: true,
			wantMsg:   "data acquisition failed (source): connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, ErrDataAcquisition)
			assert.Equal(t, tt.wantFatal, IsFatalAcquisition(tt.err))
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}

	wrapped := &AcquisitionError{Path: "x.md", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
}

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, CheckDimension(make([]float32, 4), 4))

	err := CheckDimension(make([]float32, 3), 4)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	var dimErr *DimensionError
	assert.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 3, dimErr.Got)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(ErrStoreUnavailable)
	assert.Equal(t, ErrStoreUnavailable.Error(), resp.Error)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	ok := NewResultResponse(nil)
	assert.Empty(t, ok.Error)
	assert.NotNil(t, ok.Results)
}

func TestOrdered(t *testing.T) {
	assert.True(t, Ordered(nil))
	assert.True(t, Ordered([]QueryResult{{Distance: 0.1}, {Distance: 0.1}, {Distance: 0.4}}))
	assert.False(t, Ordered([]QueryResult{{Distance: 0.5}, {Distance: 0.2}}))
}

func TestDocumentIsBlank(t *testing.T) {
	assert.True(t, Document{Body: " \n\t"}.IsBlank())
	assert.False(t, Document{Body: "text"}.IsBlank())
	assert.True(t, SourceLocal.Valid())
	assert.False(t, SourceKind("s3").Valid())
}
