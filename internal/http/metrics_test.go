package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := NewHTTPMetricsWithMeter(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/documents/:id/preview", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.POST("/search", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "Query is required")
	})

	for _, r := range []struct{ method, target string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/documents/1/preview"},
		{http.MethodGet, "/documents/2/preview"},
		{http.MethodPost, "/search"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.target, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	foundRequests := false
	foundDuration := false
	foundResponseSize := false

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "ragfus.http.requests_total":
				foundRequests = true
				sum, ok := md.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("requests_total has type %T", md.Data)
				}
				byEndpoint := map[string]int64{}
				statuses := map[int64]bool{}
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
					ep, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					byEndpoint[ep.AsString()] += dp.Value
					st, _ := dp.Attributes.Value(attribute.Key("status"))
					statuses[st.AsInt64()] = true
				}
				if total != 4 {
					t.Errorf("expected 4 requests, got %d", total)
				}
				if byEndpoint["/documents/:id/preview"] != 2 {
					t.Errorf("expected preview requests grouped by route template, got %v", byEndpoint)
				}
				if !statuses[http.StatusBadRequest] {
					t.Errorf("expected a 400 status recorded, got %v", statuses)
				}
			case "ragfus.http.request_duration_seconds":
				foundDuration = true
				if hist, ok := md.Data.(metricdata.Histogram[float64]); ok {
					var total uint64
					for _, dp := range hist.DataPoints {
						total += dp.Count
					}
					if total != 4 {
						t.Errorf("expected 4 duration recordings, got %d", total)
					}
				}
			case "ragfus.http.response_size_bytes":
				foundResponseSize = true
			}
		}
	}

	if !foundRequests {
		t.Error("requests counter not found")
	}
	if !foundDuration {
		t.Error("duration histogram not found")
	}
	if !foundResponseSize {
		t.Error("response size histogram not found")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/documents/:id", "/documents/:id"},
		{"/documents/:id/preview", "/documents/:id/preview"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
