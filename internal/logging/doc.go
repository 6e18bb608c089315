// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps Zap with:
//   - A custom Trace level (-2, below Debug)
//   - Dual output (stdout or stderr, plus an optional OpenTelemetry bridge)
//   - Context field injection (trace_id, request id, ingest run id)
//   - Level-aware sampling (errors never sampled)
//
// Usage:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "directory ingested", zap.Int("processed", n))
//
// The MCP server speaks JSON-RPC on stdout, so it must log with
// Output.Writer set to "stderr".
package logging
