package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty input text
	ErrEmptyInput = errors.New("empty input text")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDegenerateVector indicates a pooled vector with no real tokens or zero norm
	ErrDegenerateVector = errors.New("degenerate embedding vector")
)

// Encoder runs the transformer over one input and returns per-token states.
type Encoder interface {
	Encode(ctx context.Context, text string) (TokenStates, error)
	Close() error
}

// Provider produces unit-length embeddings.
type Provider interface {
	// Embed returns the normalized embedding for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Model pools and normalizes encoder output. Safe for concurrent use if
// the Encoder is.
type Model struct {
	encoder   Encoder
	name      string
	dimension int
	metrics   *Metrics
}

var _ Provider = (*Model)(nil)

// NewModel wraps an encoder. dimension is the expected output size.
func NewModel(encoder Encoder, name string, dimension int, logger *zap.Logger) (*Model, error) {
	if encoder == nil {
		return nil, fmt.Errorf("%w: encoder is required", ErrInvalidConfig)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		encoder:   encoder,
		name:      name,
		dimension: dimension,
		metrics:   NewMetrics(logger),
	}, nil
}

// Embed encodes text, mean-pools over real tokens and L2-normalizes.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, tokens, err := m.embed(ctx, text)
	m.metrics.record(ctx, m.name, "embed", time.Since(start), tokens, err)
	return vec, err
}

// embed returns the vector and the number of real tokens encoded.
func (m *Model) embed(ctx context.Context, text string) ([]float32, int, error) {
	if text == "" {
		return nil, 0, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	states, err := m.encoder.Encode(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	tokens := realTokens(states)
	if states.Dim != m.dimension {
		return nil, tokens, fmt.Errorf("%w: model produced dimension %d, expected %d", ErrEmbeddingFailed, states.Dim, m.dimension)
	}

	pooled, err := MeanPool(states)
	if err != nil {
		return nil, tokens, err
	}
	vec, err := Normalize(pooled)
	return vec, tokens, err
}

// Dimension returns the embedding dimension.
func (m *Model) Dimension() int {
	return m.dimension
}

// Close releases the encoder.
func (m *Model) Close() error {
	return m.encoder.Close()
}
