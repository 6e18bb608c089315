//go:build cgo

package embeddings

import (
	"fmt"
	"path/filepath"

	fastembed "github.com/anush008/fastembed-go"
)

// fastembedModels maps model names to fastembed download identifiers.
var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FetchModel makes sure the named model is present under cfg.CacheDir and
// returns its directory. fastembed performs the download; its own pooling
// is never used.
func FetchModel(cfg ONNXConfig) (string, error) {
	model, ok := fastembedModels[cfg.Model]
	if !ok {
		return "", fmt.Errorf("%w: model %q cannot be downloaded, set model_dir to a local ONNX export", ErrInvalidConfig, cfg.Model)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	dir := filepath.Join(cacheDir, string(model))
	if hasModelFiles(dir) {
		return dir, nil
	}

	if cfg.LibraryPath != "" {
		if err := setONNXPathEnv(cfg.LibraryPath); err != nil {
			return "", fmt.Errorf("setting ONNX_PATH: %w", err)
		}
	}

	showProgress := cfg.ShowProgress
	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return "", fmt.Errorf("downloading model %s: %w", cfg.Model, err)
	}
	if err := fe.Destroy(); err != nil {
		return "", fmt.Errorf("releasing fastembed: %w", err)
	}

	if !hasModelFiles(dir) {
		return "", fmt.Errorf("%w: model files missing in %s after download", ErrInvalidConfig, dir)
	}
	return dir, nil
}
