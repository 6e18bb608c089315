// Package ingest turns files into stored documents with embeddings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragfus/internal/embeddings"
	"github.com/fyrsmithlabs/ragfus/internal/extract"
	"github.com/fyrsmithlabs/ragfus/internal/ignore"
	"github.com/fyrsmithlabs/ragfus/internal/logging"
	"github.com/fyrsmithlabs/ragfus/internal/store"
)

var (
	// ErrEmptyContent is returned when a file yields no text.
	ErrEmptyContent = errors.New("no text content extracted")

	// ErrNotDirectory is returned when a directory walk is rooted at a file
	// or a missing path.
	ErrNotDirectory = errors.New("not a directory")
)

// DefaultExtensions is the allowlist used when none is given. The empty
// string admits files without an extension.
var DefaultExtensions = []string{".txt", ".md", ".csv", ".json", ".html", ".docx", ".pdf", ".py", ""}

const (
	opFile      = "file"
	opDirectory = "directory"
	opRebuild   = "rebuild"
)

// Storage is the subset of the vector store the pipeline writes to.
type Storage interface {
	InsertDocument(ctx context.Context, path, text string) (int64, error)
	InsertEmbedding(ctx context.Context, docID int64, embedding []byte) error
	Documents(ctx context.Context) ([]store.Document, error)
}

// Result is the outcome of ingesting one file.
type Result struct {
	Path string
	OK   bool
	Err  error
}

// Summary counts the outcome of a batch.
type Summary struct {
	RunID     string
	Processed int
	Failed    int
	Duration  time.Duration
}

// Pipeline extracts, embeds and stores documents.
type Pipeline struct {
	extractor extract.Extractor
	embedder  embeddings.Provider
	store     Storage
	logger    *logging.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	ignore    *ignore.Parser
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics overrides the default global-meter metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithIgnore excludes paths matched by ignore files found at the root of
// each directory walk.
func WithIgnore(parser *ignore.Parser) Option {
	return func(p *Pipeline) { p.ignore = parser }
}

// NewPipeline creates a pipeline. extractor, embedder and storage are required.
func NewPipeline(extractor extract.Extractor, embedder embeddings.Provider, storage Storage, logger *logging.Logger, opts ...Option) (*Pipeline, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	p := &Pipeline{
		extractor: extractor,
		embedder:  embedder,
		store:     storage,
		logger:    logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(logger.Underlying())
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(ingestInstrumentationName)
	}
	return p, nil
}

// IngestFile extracts, embeds and stores a single file. Failures are
// reported in the result, never returned.
func (p *Pipeline) IngestFile(ctx context.Context, path string) Result {
	return p.ingestFile(ctx, path, opFile)
}

func (p *Pipeline) ingestFile(ctx context.Context, path, op string) Result {
	ctx, span := p.tracer.Start(ctx, "ingest.file", trace.WithAttributes(
		attribute.String("path", path),
		attribute.String("operation", op),
	))
	defer span.End()

	stage, err := p.storeFile(ctx, path)
	p.metrics.recordFile(ctx, op, stage, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		p.logger.Warn(ctx, "ingest failed",
			zap.String("path", path),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return Result{Path: path, Err: err}
	}

	p.logger.Debug(ctx, "ingested", zap.String("path", path))
	return Result{Path: path, OK: true}
}

// storeFile returns the failing stage alongside any error.
func (p *Pipeline) storeFile(ctx context.Context, path string) (string, error) {
	text, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return "extract", err
	}
	if strings.TrimSpace(text) == "" {
		return "extract", fmt.Errorf("%s: %w", path, ErrEmptyContent)
	}

	// The document row stays if embedding fails; a later ingest or
	// rebuild fills in the embedding.
	docID, err := p.store.InsertDocument(ctx, path, text)
	if err != nil {
		return "store", err
	}
	return p.embedAndStore(ctx, docID, text)
}

func (p *Pipeline) embedAndStore(ctx context.Context, docID int64, text string) (string, error) {
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return "embed", err
	}
	if err := p.store.InsertEmbedding(ctx, docID, store.EncodeVector(vec)); err != nil {
		return "store", err
	}
	return "", nil
}

// IngestDirectory walks root recursively and ingests every file whose
// extension is in allowlist. A nil allowlist means DefaultExtensions.
// Per-file failures are counted and never stop the walk.
func (p *Pipeline) IngestDirectory(ctx context.Context, root string, allowlist []string) (Summary, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}
	if !info.IsDir() {
		return Summary{}, fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}

	if allowlist == nil {
		allowlist = DefaultExtensions
	}
	allowed := NormalizeExtensions(allowlist)

	var excluded *ignore.Matcher
	if p.ignore != nil {
		excluded, err = p.ignore.Load(root)
		if err != nil {
			return Summary{}, fmt.Errorf("reading ignore files: %w", err)
		}
	}

	summary := Summary{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, summary.RunID)
	ctx, span := p.tracer.Start(ctx, "ingest.directory", trace.WithAttributes(
		attribute.String("root", root),
		attribute.String("run_id", summary.RunID),
	))
	defer span.End()

	start := time.Now()
	p.metrics.recordRun(ctx, opDirectory)
	p.logger.Info(ctx, "directory ingestion started", zap.String("root", root))

	var ignored int
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable entries count as failures; the walk continues.
			summary.Failed++
			p.metrics.recordFile(ctx, opDirectory, "walk", false)
			p.logger.Warn(ctx, "walk error", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !excluded.Empty() && path != root {
			if rel, relErr := filepath.Rel(root, path); relErr == nil && excluded.Match(rel) {
				ignored++
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() || !allowed[extract.Ext(path)] {
			return nil
		}

		if res := p.ingestFile(ctx, path, opDirectory); res.OK {
			summary.Processed++
		} else {
			summary.Failed++
		}
		return nil
	})

	summary.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("processed", summary.Processed),
		attribute.Int("failed", summary.Failed),
		attribute.Int("ignored", ignored),
	)
	p.logger.Info(ctx, "directory ingestion finished",
		zap.String("root", root),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("ignored", ignored),
		zap.Duration("duration", summary.Duration),
	)

	if walkErr != nil {
		span.RecordError(walkErr)
		return summary, walkErr
	}
	return summary, nil
}

// Rebuild re-embeds every stored document from its stored text, replacing
// its embedding. Documents whose text is empty or fails to embed are counted
// as failures.
func (p *Pipeline) Rebuild(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, summary.RunID)
	ctx, span := p.tracer.Start(ctx, "ingest.rebuild", trace.WithAttributes(
		attribute.String("run_id", summary.RunID),
	))
	defer span.End()

	start := time.Now()
	p.metrics.recordRun(ctx, opRebuild)

	docs, err := p.store.Documents(ctx)
	if err != nil {
		span.RecordError(err)
		return summary, fmt.Errorf("loading documents: %w", err)
	}

	p.logger.Info(ctx, "rebuild started", zap.Int("documents", len(docs)))

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		var stage string
		var err error
		if strings.TrimSpace(doc.Text) == "" {
			stage, err = "extract", ErrEmptyContent
		} else {
			stage, err = p.embedAndStore(ctx, doc.ID, doc.Text)
		}
		p.metrics.recordFile(ctx, opRebuild, stage, err == nil)

		if err != nil {
			summary.Failed++
			p.logger.Warn(ctx, "rebuild failed",
				zap.Int64("document_id", doc.ID),
				zap.String("path", doc.Path),
				zap.String("stage", stage),
				zap.Error(err),
			)
			continue
		}
		summary.Processed++
	}

	summary.Duration = time.Since(start)
	p.logger.Info(ctx, "rebuild finished",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// NormalizeExtensions lowercases an extension list and adds the leading dot
// where it is missing. The empty string is kept as is.
func NormalizeExtensions(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}
