package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragfus/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	_ = logger.Sync()
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"bad writer", func(c *Config) { c.Output.Writer = "file" }},
		{"no outputs", func(c *Config) { c.Output.Writer = "" }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"k": ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			_, err := NewLogger(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	off := false
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console", Sampling: &off})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Sampling.Enabled)

	_, err = FromAppConfig(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithRunID(ctx, "run_1")

	tl.Info(ctx, "ingested", zap.Int("processed", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "ingested")
	tl.AssertField(t, "ingested", "trace_id", "4bf92f3577b34da6a3ce929d0e0e4736")
	tl.AssertField(t, "ingested", "request.id", "req-1")
	tl.AssertField(t, "ingested", "ingest.run_id", "run_1")
	tl.AssertField(t, "ingested", "processed", int64(3))
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")

	assert.Len(t, tl.All(), 4)
	tl.AssertLogged(t, TraceLevel, "t")
	tl.AssertNotLogged(t, zapcore.InfoLevel, "t")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("ingest").With(zap.String("root", "/docs"))
	child.Info(context.Background(), "walk started")

	entries := tl.FilterMessage("walk started").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ingest", entries[0].LoggerName)
	assert.Equal(t, "/docs", entries[0].ContextMap()["root"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "hello")
	tl.AssertLogged(t, zapcore.InfoLevel, "hello")
}

func TestWithRequestID_IgnoresInvalid(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, "")))
	assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, "has space")))
	assert.Empty(t, RunIDFromContext(WithRunID(ctx, "../etc")))
	assert.Equal(t, "abc", RequestIDFromContext(WithRequestID(ctx, "abc")))
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    2,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for i := 0; i < 10; i++ {
		logger.Info("repeated")
		logger.Error("failure")
	}

	assert.Equal(t, 2, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 10, observed.FilterMessage("failure").Len())
}

func TestSampledCore_InfoLevelBoundRespected(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Initial: 100,
	})
	logger := zap.New(sampled)

	logger.Info("once")
	assert.Equal(t, 1, observed.FilterMessage("once").Len(), "info must not pass both cores")
}

func TestSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{}))
}
