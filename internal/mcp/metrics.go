package mcp

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragfus/internal/extract"
	"github.com/fyrsmithlabs/ragfus/internal/ingest"
	"github.com/fyrsmithlabs/ragfus/internal/retrieval"
	"github.com/fyrsmithlabs/ragfus/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/ragfus/internal/mcp"

// Metrics records tool calls.
type Metrics struct {
	logger   *zap.Logger
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	failures metric.Int64Counter
	inflight metric.Int64UpDownCounter
	items    metric.Int64Histogram
}

// NewMetrics creates tool metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates tool metrics on meter.
func NewMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}

	var err error
	m.calls, err = meter.Int64Counter(
		"ragfus.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool"),
		metric.WithUnit("{invocation}"),
	)
	m.warn("invocations counter", err)

	m.duration, err = meter.Float64Histogram(
		"ragfus.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	m.warn("duration histogram", err)

	m.failures, err = meter.Int64Counter(
		"ragfus.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error, by reason"),
		metric.WithUnit("{error}"),
	)
	m.warn("errors counter", err)

	m.inflight, err = meter.Int64UpDownCounter(
		"ragfus.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{request}"),
	)
	m.warn("active requests counter", err)

	// Search hits, listed documents or ingested files, depending on the tool.
	m.items, err = meter.Int64Histogram(
		"ragfus.mcp.tool.items",
		metric.WithDescription("Items returned or processed per successful call"),
		metric.WithUnit("{item}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 100, 1000),
	)
	m.warn("items histogram", err)

	return m
}

func (m *Metrics) warn(what string, err error) {
	if err != nil {
		m.logger.Warn("failed to create "+what, zap.Error(err))
	}
}

// call tracks one in-flight tool call.
type call struct {
	m     *Metrics
	ctx   context.Context
	tool  attribute.KeyValue
	start time.Time
	items int
}

// begin marks a tool call as started. The returned call must be finished.
func (m *Metrics) begin(ctx context.Context, tool string) *call {
	c := &call{m: m, ctx: ctx, tool: attribute.String("tool", tool), start: time.Now(), items: -1}
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, metric.WithAttributes(c.tool))
	}
	return c
}

// count sets the item count reported on success.
func (c *call) count(n int) {
	c.items = n
}

// finish records the outcome of the call.
func (c *call) finish(err error) {
	m, ctx := c.m, c.ctx
	attrs := metric.WithAttributes(c.tool)
	if m.inflight != nil {
		m.inflight.Add(ctx, -1, attrs)
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(c.start).Seconds(), attrs)
	}
	if err != nil {
		if m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(c.tool, attribute.String("reason", errorReason(err))))
		}
		return
	}
	if c.items >= 0 && m.items != nil {
		m.items.Record(ctx, int64(c.items), attrs)
	}
}

// errorReason maps an error onto a small fixed label set.
func errorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, retrieval.ErrInvalidRequest),
		errors.Is(err, sanitize.ErrPathTraversal),
		errors.Is(err, sanitize.ErrEmptyPath):
		return "validation_error"
	case errors.Is(err, retrieval.ErrNotFound),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, ingest.ErrNotDirectory):
		return "not_found"
	case errors.Is(err, extract.ErrUnsupportedFormat),
		errors.Is(err, extract.ErrExtractionFailed),
		errors.Is(err, ingest.ErrEmptyContent):
		return "extraction_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, fs.ErrPermission):
		return "permission_error"
	default:
		return "internal_error"
	}
}
