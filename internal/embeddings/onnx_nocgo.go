//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrONNXNotAvailable is returned when the binary was built without CGO.
var ErrONNXNotAvailable = errors.New("onnx: not available (binary built without CGO support)")

// ONNXConfig holds configuration for the ONNX encoder.
type ONNXConfig struct {
	Model        string
	ModelDir     string
	CacheDir     string
	MaxLength    int
	Dimension    int
	LibraryPath  string
	OutputName   string
	TokenTypeIDs bool
	ShowProgress bool
}

// ONNXEncoder is a stub for non-CGO builds.
type ONNXEncoder struct{}

// NewONNXEncoder returns an error when CGO is not available.
func NewONNXEncoder(_ ONNXConfig) (*ONNXEncoder, error) {
	return nil, ErrONNXNotAvailable
}

// Encode returns an error when CGO is not available.
func (e *ONNXEncoder) Encode(_ context.Context, _ string) (TokenStates, error) {
	return TokenStates{}, ErrONNXNotAvailable
}

// Dimension returns 0 when CGO is not available.
func (e *ONNXEncoder) Dimension() int {
	return 0
}

// Close is a no-op when CGO is not available.
func (e *ONNXEncoder) Close() error {
	return nil
}

// GetONNXLibraryPath returns an empty string when CGO is not available.
func GetONNXLibraryPath() string {
	return ""
}

// EnsureONNXRuntime returns an error when CGO is not available.
func EnsureONNXRuntime(_ context.Context, _ func(string)) (string, error) {
	return "", ErrONNXNotAvailable
}
