package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// hashEncoder emits one deterministic vector per whitespace token plus a
// padded position that must not influence the pooled result.
type hashEncoder struct {
	dim    int
	closed bool
}

func (h *hashEncoder) Encode(_ context.Context, text string) (TokenStates, error) {
	words := strings.Fields(text)
	seq := len(words) + 1
	hidden := make([]float32, seq*h.dim)
	mask := make([]int64, seq)
	for i, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		seed := f.Sum64()
		for j := 0; j < h.dim; j++ {
			hidden[i*h.dim+j] = float32((seed>>uint(j%64))&0xff) - 127.5
		}
		mask[i] = 1
	}
	for j := 0; j < h.dim; j++ {
		hidden[len(words)*h.dim+j] = 1e6
	}
	return TokenStates{Hidden: hidden, Mask: mask, SeqLen: seq, Dim: h.dim}, nil
}

func (h *hashEncoder) Close() error {
	h.closed = true
	return nil
}

func newHashModel(t *testing.T, dim int) (*Model, *hashEncoder) {
	t.Helper()
	enc := &hashEncoder{dim: dim}
	m, err := NewModel(enc, "hash", dim, zap.NewNop())
	require.NoError(t, err)
	return m, enc
}

func TestModel_EmbedUnitNorm(t *testing.T) {
	m, _ := newHashModel(t, 16)

	texts := []string{
		"hello",
		"the quick brown fox jumps over the lazy dog",
		strings.Repeat("long input ", 2000),
	}
	for _, text := range texts {
		vec, err := m.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, vec, 16)
		assert.InDelta(t, 1.0, Norm(vec), 1e-5)
	}
}

func TestModel_EmbedDeterministic(t *testing.T) {
	m, _ := newHashModel(t, 8)
	ctx := context.Background()

	a, err := m.Embed(ctx, "same text twice")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "same text twice")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestModel_EmbedEmptyInput(t *testing.T) {
	m, _ := newHashModel(t, 8)
	_, err := m.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestModel_EmbedWhitespaceOnlyIsDegenerate(t *testing.T) {
	m, _ := newHashModel(t, 8)
	_, err := m.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrDegenerateVector)
}

func TestModel_EmbedCanceledContext(t *testing.T) {
	m, _ := newHashModel(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Embed(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModel_DimensionMismatch(t *testing.T) {
	m, err := NewModel(&hashEncoder{dim: 4}, "hash", 8, nil)
	require.NoError(t, err)
	_, err = m.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewModel_Validation(t *testing.T) {
	_, err := NewModel(nil, "x", 8, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewModel(&hashEncoder{dim: 8}, "x", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModel_Close(t *testing.T) {
	m, enc := newHashModel(t, 8)
	require.NoError(t, m.Close())
	assert.True(t, enc.closed)
	assert.Equal(t, 8, m.Dimension())
}

func TestKnownDimension(t *testing.T) {
	dim, ok := KnownDimension(DefaultModel)
	assert.True(t, ok)
	assert.Equal(t, 768, dim)

	dim, ok = KnownDimension("bert-base-uncased")
	assert.True(t, ok)
	assert.Equal(t, 768, dim)

	_, ok = KnownDimension("unknown/model")
	assert.False(t, ok)
}
