//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig holds configuration for the ONNX encoder.
type ONNXConfig struct {
	// Model is the model name. Used for dimension lookup and, when ModelDir
	// is empty, for download via fastembed.
	Model string

	// ModelDir is a directory holding tokenizer.json and an ONNX export.
	// Takes precedence over Model for loading.
	ModelDir string

	// CacheDir is where downloaded models are kept.
	CacheDir string

	// MaxLength is the tokenizer truncation limit. Defaults to 512.
	MaxLength int

	// Dimension overrides the known-model dimension table.
	Dimension int

	// LibraryPath is the ONNX Runtime shared library. Defaults to
	// GetONNXLibraryPath().
	LibraryPath string

	// OutputName is the per-token output tensor. Defaults to last_hidden_state.
	OutputName string

	// TokenTypeIDs feeds the token_type_ids input (BERT-style graphs).
	TokenTypeIDs bool

	// ShowProgress enables download progress output.
	ShowProgress bool
}

// ONNXEncoder runs a transformer ONNX export over tokenized text.
type ONNXEncoder struct {
	tokenizer    *tokenizer.Tokenizer
	session      *ort.DynamicAdvancedSession
	dimension    int
	tokenTypeIDs bool

	tokMu sync.Mutex
	mu    sync.RWMutex
}

var modelFileNames = []string{
	"model.onnx",
	"model_optimized.onnx",
	filepath.Join("onnx", "model.onnx"),
}

func findModelFile(dir string) (string, error) {
	for _, name := range modelFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no ONNX model in %s", ErrInvalidConfig, dir)
}

func hasModelFiles(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err != nil {
		return false
	}
	_, err := findModelFile(dir)
	return err == nil
}

// NewONNXEncoder loads the tokenizer and creates an inference session.
func NewONNXEncoder(cfg ONNXConfig) (*ONNXEncoder, error) {
	if cfg.MaxLength == 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "last_hidden_state"
	}
	if cfg.LibraryPath == "" {
		cfg.LibraryPath = GetONNXLibraryPath()
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dim, ok := KnownDimension(cfg.Model)
		if !ok {
			return nil, fmt.Errorf("%w: unknown model %q, set an explicit dimension", ErrInvalidConfig, cfg.Model)
		}
		dimension = dim
	}

	dir := cfg.ModelDir
	if dir == "" {
		fetched, err := FetchModel(cfg)
		if err != nil {
			return nil, err
		}
		dir = fetched
	}

	tk, err := pretrained.FromFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	tk.WithTruncation(&tokenizer.TruncationParams{
		MaxLength: cfg.MaxLength,
		Strategy:  tokenizer.LongestFirst,
	})
	tk.WithPadding(nil)

	modelPath, err := findModelFile(dir)
	if err != nil {
		return nil, err
	}

	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs := []string{"input_ids", "attention_mask"}
	if cfg.TokenTypeIDs {
		inputs = append(inputs, "token_type_ids")
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	return &ONNXEncoder{
		tokenizer:    tk,
		session:      session,
		dimension:    dimension,
		tokenTypeIDs: cfg.TokenTypeIDs,
	}, nil
}

var runtimeMu sync.Mutex

func initRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initializing ONNX runtime: %w", err)
	}
	return nil
}

// Encode tokenizes text (truncating to the configured limit) and returns
// the per-token hidden states.
func (e *ONNXEncoder) Encode(ctx context.Context, text string) (TokenStates, error) {
	if err := ctx.Err(); err != nil {
		return TokenStates{}, err
	}

	e.tokMu.Lock()
	enc, err := e.tokenizer.EncodeSingle(text, true)
	e.tokMu.Unlock()
	if err != nil {
		return TokenStates{}, fmt.Errorf("%w: tokenizing: %v", ErrEmbeddingFailed, err)
	}

	n := len(enc.Ids)
	if n == 0 {
		return TokenStates{}, fmt.Errorf("%w: no tokens", ErrDegenerateVector)
	}

	ids := toInt64(enc.Ids)
	mask := toInt64(enc.AttentionMask)
	shape := ort.NewShape(1, int64(n))

	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return TokenStates{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return TokenStates{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer maskTensor.Destroy()

	inputs := []ort.ArbitraryTensor{idsTensor, maskTensor}
	if e.tokenTypeIDs {
		typeTensor, err := ort.NewTensor(shape, toInt64(enc.TypeIds))
		if err != nil {
			return TokenStates{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		defer typeTensor.Destroy()
		inputs = append(inputs, typeTensor)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n), int64(e.dimension)))
	if err != nil {
		return TokenStates{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer output.Destroy()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return TokenStates{}, fmt.Errorf("%w: encoder closed", ErrEmbeddingFailed)
	}
	if err := e.session.Run(inputs, []ort.ArbitraryTensor{output}); err != nil {
		return TokenStates{}, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	hidden := make([]float32, n*e.dimension)
	copy(hidden, output.GetData())

	return TokenStates{
		Hidden: hidden,
		Mask:   mask,
		SeqLen: n,
		Dim:    e.dimension,
	}, nil
}

// Dimension returns the hidden size.
func (e *ONNXEncoder) Dimension() int {
	return e.dimension
}

// Close destroys the inference session.
func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
