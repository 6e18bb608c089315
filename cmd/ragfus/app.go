package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragfus/internal/config"
	"github.com/fyrsmithlabs/ragfus/internal/embeddings"
	"github.com/fyrsmithlabs/ragfus/internal/extract"
	"github.com/fyrsmithlabs/ragfus/internal/ignore"
	"github.com/fyrsmithlabs/ragfus/internal/ingest"
	"github.com/fyrsmithlabs/ragfus/internal/logging"
	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
	"github.com/fyrsmithlabs/ragfus/internal/store"
	"github.com/fyrsmithlabs/ragfus/internal/telemetry"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	store    *store.Store
	embedder *lazyEmbedder
	svc      *retrieval.Service
}

// newApp loads configuration and wires logging, telemetry, the store, the
// embedding model and the retrieval service. logWriter is "stdout" or
// "stderr"; commands that print results or speak MCP on stdout use stderr.
func newApp(ctx context.Context, logWriter string) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logCfg.Output.Writer = logWriter
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	emb := newLazyEmbedder(cfg.Embeddings, logger)

	var opts []ingest.Option
	if len(cfg.Ingest.IgnoreFiles) > 0 {
		opts = append(opts, ingest.WithIgnore(ignore.NewParser(cfg.Ingest.IgnoreFiles, nil)))
	}
	pipeline, err := ingest.NewPipeline(extract.New(), emb, st, logger, opts...)
	if err != nil {
		_ = st.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	svc, err := retrieval.NewService(emb, st, pipeline, logger, retrieval.Options{
		DefaultTopK:   cfg.Search.DefaultTopK,
		PreviewLength: cfg.Search.PreviewLength,
		PreviewMax:    cfg.Search.PreviewMax,
		Extensions:    cfg.Ingest.Extensions,
	})
	if err != nil {
		_ = st.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	logger.Debug(ctx, "ragfus initialized",
		zap.String("store", st.Path()),
		zap.String("model", cfg.Embeddings.Model),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		store:    st,
		embedder: emb,
		svc:      svc,
	}, nil
}

// Close releases the model, the store and telemetry, in that order.
func (a *app) Close() error {
	var errs []error
	if err := a.embedder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("embedder close: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	_ = a.logger.Sync()

	return errors.Join(errs...)
}

// lazyEmbedder loads the ONNX model on first use so that commands which
// never embed do not pay for it. A failed load is retried on the next call.
type lazyEmbedder struct {
	cfg    config.EmbeddingsConfig
	logger *logging.Logger
	loadFn func(ctx context.Context) (embeddings.Provider, error)

	mu       sync.Mutex
	provider embeddings.Provider
	closed   bool
}

var _ embeddings.Provider = (*lazyEmbedder)(nil)

var errEmbedderClosed = errors.New("embedding model is closed")

func newLazyEmbedder(cfg config.EmbeddingsConfig, logger *logging.Logger) *lazyEmbedder {
	l := &lazyEmbedder{cfg: cfg, logger: logger}
	l.loadFn = func(ctx context.Context) (embeddings.Provider, error) {
		return loadModel(ctx, l.cfg, l.logger)
	}
	return l
}

// Load loads the model if it is not loaded yet. Cancelling ctx does not
// interrupt a load in progress.
func (l *lazyEmbedder) Load(ctx context.Context) error {
	_, err := l.load(ctx)
	return err
}

func (l *lazyEmbedder) load(ctx context.Context) (embeddings.Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errEmbedderClosed
	}
	if l.provider != nil {
		return l.provider, nil
	}
	p, err := l.loadFn(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	l.provider = p
	return p, nil
}

// Embed loads the model if needed and embeds text.
func (l *lazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, text)
}

// Dimension returns the configured or known model dimension.
func (l *lazyEmbedder) Dimension() int {
	if l.cfg.Dimension > 0 {
		return l.cfg.Dimension
	}
	dim, _ := embeddings.KnownDimension(l.cfg.Model)
	return dim
}

// Close releases the model if it was loaded. Later calls to Embed fail.
func (l *lazyEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.provider == nil {
		return nil
	}
	err := l.provider.Close()
	l.provider = nil
	return err
}

func loadModel(ctx context.Context, cfg config.EmbeddingsConfig, logger *logging.Logger) (embeddings.Provider, error) {
	libPath := cfg.ONNXLibrary
	if libPath == "" {
		p, err := embeddings.EnsureONNXRuntime(ctx, func(msg string) {
			logger.Info(ctx, msg)
		})
		if err != nil {
			return nil, err
		}
		libPath = p
	}

	start := time.Now()
	enc, err := embeddings.NewONNXEncoder(embeddings.ONNXConfig{
		Model:        cfg.Model,
		ModelDir:     cfg.ModelDir,
		CacheDir:     cfg.CacheDir,
		MaxLength:    cfg.MaxLength,
		Dimension:    cfg.Dimension,
		LibraryPath:  libPath,
		OutputName:   cfg.OutputName,
		TokenTypeIDs: cfg.TokenTypeIDsEnabled(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding model %s: %w", cfg.Model, err)
	}

	model, err := embeddings.NewModel(enc, cfg.Model, enc.Dimension(), logger.Underlying())
	if err != nil {
		_ = enc.Close()
		return nil, err
	}

	logger.Info(ctx, "embedding model loaded",
		zap.String("model", cfg.Model),
		zap.Int("dimension", model.Dimension()),
		zap.Duration("duration", time.Since(start)),
	)
	return model, nil
}
