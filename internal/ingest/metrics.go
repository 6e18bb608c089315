package ingest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const ingestInstrumentationName = "github.com/fyrsmithlabs/ragfus/internal/ingest"

// Metrics holds ingestion counters.
type Metrics struct {
	meter   metric.Meter
	logger  *zap.Logger
	files   metric.Int64Counter
	failed  metric.Int64Counter
	batches metric.Int64Counter
}

// NewMetrics creates ingestion metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(ingestInstrumentationName), logger)
}

// NewMetricsWithMeter creates ingestion metrics on meter.
func NewMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.files, err = m.meter.Int64Counter(
		"ragfus.ingest.files_total",
		metric.WithDescription("Files stored with an embedding, labeled by operation (file, directory, rebuild)."),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn("failed to create files counter", zap.Error(err))
	}

	m.failed, err = m.meter.Int64Counter(
		"ragfus.ingest.failures_total",
		metric.WithDescription("Files that failed extraction, embedding or storage, labeled by operation and stage."),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn("failed to create failures counter", zap.Error(err))
	}

	m.batches, err = m.meter.Int64Counter(
		"ragfus.ingest.runs_total",
		metric.WithDescription("Directory ingestion and rebuild runs."),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}
}

func (m *Metrics) recordFile(ctx context.Context, op string, stage string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		if m.files != nil {
			m.files.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		}
		return
	}
	if m.failed != nil {
		m.failed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("stage", stage),
		))
	}
}

func (m *Metrics) recordRun(ctx context.Context, op string) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
