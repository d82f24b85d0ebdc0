package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHash(tt.text))
		})
	}
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "test text"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid batch", []string{"a", "b"}, false},
		{"empty batch", nil, true},
		{"empty text in batch", []string{"a", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata", func(t *testing.T) {
		p, err := NewLocalProvider(16)
		require.NoError(t, err)
		assert.Equal(t, 16, p.Dimension())
		assert.Equal(t, ProviderLocal, p.Provider())
		assert.Equal(t, DefaultLocalModel, p.Model())
		assert.Equal(t, "cpu", p.Device())
		assert.NoError(t, p.Close())
	})

	t.Run("default dimension", func(t *testing.T) {
		p, err := NewLocalProvider(0)
		require.NoError(t, err)
		assert.Equal(t, DefaultDimension, p.Dimension())
	})

	t.Run("deterministic", func(t *testing.T) {
		p, _ := NewLocalProvider(64)
		a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "吾輩は猫である"})
		require.NoError(t, err)
		b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "吾輩は猫である"})
		require.NoError(t, err)
		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, 64)
		assert.Equal(t, ComputeHash("吾輩は猫である"), a.Hash)
	})

	t.Run("distinct texts differ", func(t *testing.T) {
		p, _ := NewLocalProvider(64)
		a, _ := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "alpha"})
		b, _ := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "beta"})
		assert.NotEqual(t, a.Vector, b.Vector)
	})

	t.Run("batch preserves order", func(t *testing.T) {
		p, _ := NewLocalProvider(8)
		resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"x", "y"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)
		assert.Equal(t, HashVector("x", 8), resp.Embeddings[0].Vector)
		assert.Equal(t, HashVector("y", 8), resp.Embeddings[1].Vector)
	})

	t.Run("empty text", func(t *testing.T) {
		p, _ := NewLocalProvider(8)
		_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("cancelled context", func(t *testing.T) {
		p, _ := NewLocalProvider(8)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.GenerateEmbedding(cctx, EmbeddingRequest{Text: "x"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestHashVector_UnitLength(t *testing.T) {
	for _, dim := range []int{1, 7, 8, 9, 100, 2048} {
		v := HashVector("some text", dim)
		require.Len(t, v, dim)

		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4, "dim %d", dim)
	}
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
		want  []float32
	}{
		{"unit vector", []float32{1, 0, 0}, []float32{1, 0, 0}},
		{"needs normalization", []float32{3, 4}, []float32{0.6, 0.8}},
		{"zero vector", []float32{0, 0, 0}, []float32{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeVector(tt.input)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-6)
			}
		})
	}
}
