package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeVector(t *testing.T) {
	v := []float32{0, 1.5, -2.25, math.MaxFloat32}
	blob := serializeVector(v)
	assert.Len(t, blob, len(v)*4)
	assert.Equal(t, v, deserializeVector(blob))

	// little-endian 1.0
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, serializeVector([]float32{1}))
}

func TestL2Distance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"3-4-5", []float32{0, 0}, []float32{3, 4}, 5},
		{"unit axes", []float32{1, 0}, []float32{0, 1}, math.Sqrt2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, l2Distance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSortMatches_TiesByID(t *testing.T) {
	m := []Match{
		{ID: 3, Distance: 0.5},
		{ID: 1, Distance: 0.5},
		{ID: 2, Distance: 0.1},
	}
	sortMatches(m)
	assert.Equal(t, []int64{2, 1, 3}, []int64{m[0].ID, m[1].ID, m[2].ID})
}
