package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragfus/internal/ingest"
	"github.com/fyrsmithlabs/ragfus/internal/ranker"
	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
	"github.com/fyrsmithlabs/ragfus/internal/store"
)

// Service is the retrieval API exposed as tools.
type Service interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]ranker.Result, error)
	IngestFile(ctx context.Context, path string) ingest.Result
	IngestDirectory(ctx context.Context, root string, allowlist []string) (ingest.Summary, error)
	List(ctx context.Context) ([]store.DocumentInfo, error)
	Delete(ctx context.Context, id int64) error
	Preview(ctx context.Context, id int64, limit int) (retrieval.Preview, error)
}

// Server is an MCP server backed by the retrieval service.
type Server struct {
	mcp     *mcp.Server
	svc     Service
	metrics *Metrics
	logger  *zap.Logger
	root    string
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragfus")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// AllowedRoot, when set, confines ingest_path to paths under it.
	AllowedRoot string

	// Metrics overrides the global-meter tool metrics.
	Metrics *Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragfus",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server with the given service.
func NewServer(cfg *Config, svc Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if svc == nil {
		return nil, fmt.Errorf("retrieval service is required")
	}
	if cfg.Name == "" {
		cfg.Name = "ragfus"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.Logger)
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		svc:     svc,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		root:    cfg.AllowedRoot,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves a single session on t until ctx is done or the
// client disconnects.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect starts a session on t without blocking.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
