package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/ragfus/internal/embeddings"

// Metrics records encoder latency, sequence lengths and failures.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	tokens   metric.Int64Histogram
	failures metric.Int64Counter
}

// NewMetrics creates metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(embeddingsInstrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"ragfus.embedding.duration_seconds",
		metric.WithDescription("Time to encode, pool and normalize one request"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		m.logger.Warn("failed to create embedding duration histogram", zap.Error(err))
	}

	// Sequences pile up at max_length when inputs are being truncated.
	m.tokens, err = meter.Int64Histogram(
		"ragfus.embedding.tokens",
		metric.WithDescription("Real tokens per encoded sequence"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(8, 32, 64, 128, 256, 384, 512, 1024),
	)
	if err != nil {
		m.logger.Warn("failed to create embedding token histogram", zap.Error(err))
	}

	m.failures, err = meter.Int64Counter(
		"ragfus.embedding.failures_total",
		metric.WithDescription("Embedding failures by reason"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.logger.Warn("failed to create embedding failure counter", zap.Error(err))
	}
	return m
}

// record stores one request. tokens is the number of real tokens seen,
// zero when encoding never ran.
func (m *Metrics) record(ctx context.Context, model, op string, elapsed time.Duration, tokens int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", op),
	)
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if tokens > 0 && m.tokens != nil {
		m.tokens.Record(ctx, int64(tokens), attrs)
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("operation", op),
			attribute.String("reason", failureReason(err)),
		))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrDegenerateVector):
		return "degenerate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "encode"
	}
}

// realTokens counts mask positions that are set.
func realTokens(s TokenStates) int {
	n := 0
	for _, v := range s.Mask {
		if v != 0 {
			n++
		}
	}
	return n
}
