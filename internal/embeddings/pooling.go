package embeddings

import (
	"fmt"

	"github.com/viant/vec/search"
)

// TokenStates is the raw encoder output for a single input sequence.
//
// Hidden is row-major with SeqLen rows of Dim values. Mask has SeqLen
// entries; a non-zero entry marks a real token.
type TokenStates struct {
	Hidden []float32
	Mask   []int64
	SeqLen int
	Dim    int
}

func (s TokenStates) validate() error {
	if s.SeqLen <= 0 || s.Dim <= 0 {
		return fmt.Errorf("%w: empty token states (seq=%d dim=%d)", ErrEmbeddingFailed, s.SeqLen, s.Dim)
	}
	if len(s.Hidden) != s.SeqLen*s.Dim {
		return fmt.Errorf("%w: hidden size %d does not match %dx%d", ErrEmbeddingFailed, len(s.Hidden), s.SeqLen, s.Dim)
	}
	if len(s.Mask) != s.SeqLen {
		return fmt.Errorf("%w: mask length %d does not match sequence length %d", ErrEmbeddingFailed, len(s.Mask), s.SeqLen)
	}
	return nil
}

// MeanPool averages the token vectors whose mask entry is non-zero.
// It returns ErrDegenerateVector when no position is masked in.
func MeanPool(s TokenStates) ([]float32, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	sum := make([]float64, s.Dim)
	var count int
	for i := 0; i < s.SeqLen; i++ {
		if s.Mask[i] == 0 {
			continue
		}
		count++
		row := s.Hidden[i*s.Dim : (i+1)*s.Dim]
		for j, v := range row {
			sum[j] += float64(v)
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: no real tokens", ErrDegenerateVector)
	}

	out := make([]float32, s.Dim)
	for j := range sum {
		out[j] = float32(sum[j] / float64(count))
	}
	return out, nil
}

// Norm returns the L2 norm of vec.
func Norm(vec []float32) float64 {
	return float64(search.Float32s(vec).Magnitude())
}

// Normalize returns vec divided by its L2 norm. A zero norm yields
// ErrDegenerateVector and no division is performed.
func Normalize(vec []float32) ([]float32, error) {
	n := Norm(vec)
	if n == 0 {
		return nil, fmt.Errorf("%w: zero norm", ErrDegenerateVector)
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / n)
	}
	return out, nil
}
