package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/ragfus/internal/http"
	"github.com/fyrsmithlabs/ragfus/internal/mcp"
)

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.http_port)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the ragfus HTTP API.

Endpoints include /upload, /process_directory, /search, /documents,
/health and /metrics. The server stops gracefully on SIGINT or SIGTERM.

Examples:
  # Listen on the configured address (default 0.0.0.0:5000)
  ragfus serve

  # Listen on a different port
  ragfus serve --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stdout")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.embedder.Load(ctx); err != nil {
		return fmt.Errorf("failed to load embedding model: %w", err)
	}

	cfg := a.cfg.Server
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	srv, err := httpserver.NewServer(a.svc, a.logger, &httpserver.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		UploadDir: cfg.UploadDir,
		MaxBodyMB: cfg.MaxUploadMB,
		RateLimit: cfg.RateLimit,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutdown signal received",
		zap.Duration("timeout", cfg.ShutdownTimeout.Duration()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: `Run ragfus as a Model Context Protocol server on stdin/stdout.

Tools: search_documents, list_documents, preview_document, ingest_path and
delete_document. Logs go to stderr because stdout carries the protocol.

Example MCP client configuration:
  {"command": "ragfus", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	a, err := newApp(ctx, "stderr")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.embedder.Load(ctx); err != nil {
		return fmt.Errorf("failed to load embedding model: %w", err)
	}

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "ragfus",
		Version: version,
		Logger:  a.logger.Underlying().Named("mcp"),
	}, a.svc)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
