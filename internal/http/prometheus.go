package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const statsTimeout = 2 * time.Second

// newRegistry builds the Prometheus registry served on /metrics: Go runtime
// and process collectors plus store gauges read at scrape time.
func newRegistry(svc Service, logger *zap.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	count := func(embeddings bool) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
			defer cancel()
			stats, err := svc.Stats(ctx)
			if err != nil {
				logger.Warn("metrics scrape: counting documents failed", zap.Error(err))
				return 0
			}
			if embeddings {
				return float64(stats.Embeddings)
			}
			return float64(stats.Documents)
		}
	}

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ragfus",
			Subsystem: "store",
			Name:      "documents",
			Help:      "Number of stored documents.",
		}, count(false)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ragfus",
			Subsystem: "store",
			Name:      "embeddings",
			Help:      "Number of stored embeddings. Lower than documents when embedding failed after extraction.",
		}, count(true)),
	)
	return reg
}

func metricsHandler(reg *prometheus.Registry) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}
