// Package http provides the HTTP API for ragfus.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragfus/internal/ingest"
	"github.com/fyrsmithlabs/ragfus/internal/logging"
	"github.com/fyrsmithlabs/ragfus/internal/ranker"
	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
	"github.com/fyrsmithlabs/ragfus/internal/store"
)

// Service is the retrieval API the handlers call.
type Service interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]ranker.Result, error)
	IngestFile(ctx context.Context, path string) ingest.Result
	IngestDirectory(ctx context.Context, root string, allowlist []string) (ingest.Summary, error)
	Rebuild(ctx context.Context) (ingest.Summary, error)
	List(ctx context.Context) ([]store.DocumentInfo, error)
	Delete(ctx context.Context, id int64) error
	Preview(ctx context.Context, id int64, limit int) (retrieval.Preview, error)
	Stats(ctx context.Context) (retrieval.Stats, error)
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// UploadDir receives files posted to /upload.
	UploadDir string

	// MaxBodyMB caps request bodies. Zero means 16.
	MaxBodyMB int

	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit float64

	// Version is reported by GET /api.
	Version string
}

// Server provides HTTP endpoints for ragfus.
type Server struct {
	echo     *echo.Echo
	svc      Service
	logger   *logging.Logger
	config   *Config
	metrics  *HTTPMetrics
	registry *prometheus.Registry
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics overrides the default global-meter HTTP metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(svc Service, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 5000,
		}
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxBodyMB <= 0 {
		cfg.MaxBodyMB = 16
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger.Named("http"),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(logger.Underlying())
	}
	s.registry = newRegistry(svc, s.logger.Underlying())

	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.requestLog)
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxBodyMB)))
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     max(1, int(cfg.RateLimit*2)),
				ExpiresIn: 3 * time.Minute,
			},
		)))
	}
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api", s.handleAPIInfo)
	s.echo.GET("/metrics", metricsHandler(s.registry))

	s.echo.POST("/upload", s.handleUpload)
	s.echo.POST("/process_directory", s.handleProcessDirectory)
	s.echo.POST("/search", s.handleSearch)
	s.echo.POST("/rebuild", s.handleRebuild)

	s.echo.GET("/documents", s.handleListDocuments)
	s.echo.DELETE("/documents/:id", s.handleDeleteDocument)
	s.echo.GET("/documents/:id/preview", s.handlePreviewDocument)
}

// requestContext carries the request ID into the request context so
// downstream logs are correlated.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		return next(c)
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// errorHandler writes every error as {"error": message}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := "internal server error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = fmt.Sprint(he.Message)
	case errors.Is(err, retrieval.ErrInvalidRequest):
		code = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, retrieval.ErrNotFound):
		code = http.StatusNotFound
		msg = err.Error()
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "writing error response", zap.Error(err))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
