// Package embeddings turns text into unit-length dense vectors.
//
// A transformer Encoder produces one contextual vector per token; Model
// averages the vectors of real (non-padding) tokens and L2-normalizes the
// result. The ONNX encoder requires CGO and the ONNX Runtime shared library
// (see EnsureONNXRuntime). Non-CGO builds compile against a stub that
// returns ErrONNXNotAvailable.
package embeddings
