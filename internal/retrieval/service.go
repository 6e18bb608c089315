// Package retrieval is the core API behind the HTTP, MCP and CLI surfaces:
// search, ingestion, listing, preview and deletion of documents.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragfus/internal/embeddings"
	"github.com/fyrsmithlabs/ragfus/internal/ingest"
	"github.com/fyrsmithlabs/ragfus/internal/logging"
	"github.com/fyrsmithlabs/ragfus/internal/ranker"
	"github.com/fyrsmithlabs/ragfus/internal/store"
)

const tracerName = "github.com/fyrsmithlabs/ragfus/internal/retrieval"

const (
	// DefaultTopK is the result count when a search does not specify one.
	DefaultTopK = 5

	// DefaultPreviewMax is the preview cap for a single document.
	DefaultPreviewMax = 5000
)

var (
	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = store.ErrNotFound
)

// Storage is the subset of the vector store the service reads from.
type Storage interface {
	FetchAll(ctx context.Context) ([]store.Row, error)
	List(ctx context.Context) ([]store.DocumentInfo, error)
	Preview(ctx context.Context, id int64) (path, text string, err error)
	DeleteDocument(ctx context.Context, id int64) (bool, error)
	Count(ctx context.Context) (documents, embeddings int, err error)
	ClearEmbeddings(ctx context.Context) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Ingester is the ingestion side of the service.
type Ingester interface {
	IngestFile(ctx context.Context, path string) ingest.Result
	IngestDirectory(ctx context.Context, root string, allowlist []string) (ingest.Summary, error)
	Rebuild(ctx context.Context) (ingest.Summary, error)
}

// SearchRequest is a similarity query.
type SearchRequest struct {
	Query         string
	TopK          *int
	Extensions    []string
	MinSimilarity float32
}

// Preview is the bounded text of one document.
type Preview struct {
	ID          int64
	Path        string
	Preview     string
	Truncated   bool
	TotalLength int
}

// Stats counts stored rows.
type Stats struct {
	Documents  int
	Embeddings int
}

// Options tunes service defaults.
type Options struct {
	DefaultTopK   int
	PreviewLength int
	PreviewMax    int
	// Extensions is the allowlist for directory ingestion when a caller
	// passes none.
	Extensions []string
}

// Service answers retrieval requests. Safe for concurrent use.
type Service struct {
	embedder embeddings.Provider
	store    Storage
	ingester Ingester
	logger   *logging.Logger
	tracer   trace.Tracer
	opts     Options
}

// NewService creates a service from its dependencies.
func NewService(embedder embeddings.Provider, storage Storage, ingester Ingester, logger *logging.Logger, opts Options) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = ranker.DefaultPreviewLength
	}
	if opts.PreviewMax <= 0 {
		opts.PreviewMax = DefaultPreviewMax
	}

	return &Service{
		embedder: embedder,
		store:    storage,
		ingester: ingester,
		logger:   logger.Named("retrieval"),
		tracer:   otel.Tracer(tracerName),
		opts:     opts,
	}, nil
}

// Search embeds the query and ranks every stored embedding against it.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]ranker.Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	topK := s.opts.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	ctx, span := s.tracer.Start(ctx, "retrieval.search", trace.WithAttributes(
		attribute.Int("top_k", topK),
		attribute.Int("extensions", len(req.Extensions)),
	))
	defer span.End()

	start := time.Now()

	query, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.store.FetchAll(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetching embeddings: %w", err)
	}

	candidates := make([]ranker.Candidate, 0, len(rows))
	for _, row := range rows {
		vec, err := store.DecodeVector(row.Embedding)
		if err != nil || len(vec) != len(query) {
			s.logger.Warn(ctx, "skipping unusable embedding",
				zap.Int64("document_id", row.ID),
				zap.Int("bytes", len(row.Embedding)),
				zap.Int("query_dimension", len(query)),
				zap.Error(err),
			)
			continue
		}
		if !finiteVector(vec) {
			s.logger.Warn(ctx, "skipping non-finite embedding",
				zap.Int64("document_id", row.ID),
				zap.String("path", row.Path),
			)
			continue
		}
		candidates = append(candidates, ranker.Candidate{
			ID:     row.ID,
			Path:   row.Path,
			Text:   row.Text,
			Vector: vec,
		})
	}

	results := ranker.Rank(query, candidates, ranker.Options{
		TopK:          topK,
		Extensions:    req.Extensions,
		MinSimilarity: req.MinSimilarity,
		PreviewLength: s.opts.PreviewLength,
	})

	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("results", len(results)),
	)
	s.logger.Debug(ctx, "search complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return results, nil
}

// IngestFile ingests one file.
func (s *Service) IngestFile(ctx context.Context, path string) ingest.Result {
	return s.ingester.IngestFile(ctx, path)
}

// IngestDirectory ingests a directory tree. A nil allowlist falls back to
// the configured extensions.
func (s *Service) IngestDirectory(ctx context.Context, root string, allowlist []string) (ingest.Summary, error) {
	if allowlist == nil {
		allowlist = s.opts.Extensions
	}
	summary, err := s.ingester.IngestDirectory(ctx, root, allowlist)
	if errors.Is(err, ingest.ErrNotDirectory) {
		return summary, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return summary, err
}

// Rebuild re-embeds every stored document.
func (s *Service) Rebuild(ctx context.Context) (ingest.Summary, error) {
	return s.ingester.Rebuild(ctx)
}

// RebuildClean drops every embedding before re-embedding, so documents that
// fail to embed are left without a vector instead of keeping a stale one.
func (s *Service) RebuildClean(ctx context.Context) (ingest.Summary, error) {
	if err := s.store.ClearEmbeddings(ctx); err != nil {
		return ingest.Summary{}, err
	}
	s.logger.Info(ctx, "embeddings cleared before rebuild")
	return s.ingester.Rebuild(ctx)
}

// Reset removes every document and embedding.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "store cleared")
	return nil
}

// List returns document metadata newest first.
func (s *Service) List(ctx context.Context) ([]store.DocumentInfo, error) {
	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Delete removes a document and its embedding.
func (s *Service) Delete(ctx context.Context, id int64) error {
	deleted, err := s.store.DeleteDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", id, err)
	}
	if !deleted {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	s.logger.Info(ctx, "document deleted", zap.Int64("document_id", id))
	return nil
}

// Preview returns up to limit characters of a document's text. limit <= 0
// uses the configured cap.
func (s *Service) Preview(ctx context.Context, id int64, limit int) (Preview, error) {
	if limit <= 0 {
		limit = s.opts.PreviewMax
	}

	path, text, err := s.store.Preview(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Preview{}, fmt.Errorf("document %d: %w", id, ErrNotFound)
		}
		return Preview{}, fmt.Errorf("loading document %d: %w", id, err)
	}

	total := utf8.RuneCountInString(text)
	p := Preview{ID: id, Path: path, Preview: text, TotalLength: total}
	if total > limit {
		p.Preview = string([]rune(text)[:limit])
		p.Truncated = true
	}
	return p, nil
}

// Stats returns document and embedding counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	docs, embs, err := s.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}
	return Stats{Documents: docs, Embeddings: embs}, nil
}

// Ping checks that storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func finiteVector(vec []float32) bool {
	for _, f := range vec {
		if !ranker.Finite(f) {
			return false
		}
	}
	return true
}
