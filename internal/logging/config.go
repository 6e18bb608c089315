package logging

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ragfus/internal/config"
	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for per-file and per-token
// detail. Almost always filtered.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Config holds logging configuration.
type Config struct {
	Level    zapcore.Level
	Format   string
	Output   OutputConfig
	Sampling SamplingConfig
	Caller   bool
	Fields   map[string]string
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	// Writer is "stdout", "stderr" or "" to disable console output.
	Writer string
	OTEL   bool
}

// SamplingConfig controls log volume reduction below Error.
type SamplingConfig struct {
	Enabled    bool
	Tick       config.Duration
	Initial    int
	Thereafter int
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{
			Writer: "stdout",
		},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{
			"service": "ragfus",
		},
	}
}

// FromAppConfig builds a logger config from the application config.
func FromAppConfig(cfg config.LoggingConfig) (*Config, error) {
	out := NewDefaultConfig()

	level, err := LevelFromString(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	out.Level = level
	if cfg.Format != "" {
		out.Format = cfg.Format
	}
	out.Sampling.Enabled = cfg.SamplingEnabled()
	return out, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	switch c.Output.Writer {
	case "stdout", "stderr":
	case "":
		if !c.Output.OTEL {
			return fmt.Errorf("at least one output must be enabled (writer or otel)")
		}
	default:
		return fmt.Errorf("output writer must be 'stdout' or 'stderr', got %q", c.Output.Writer)
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
		}
		if c.Sampling.Initial <= 0 {
			return fmt.Errorf("sampling initial must be > 0, got %d", c.Sampling.Initial)
		}
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
