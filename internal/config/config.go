// Package config provides configuration loading for ragfus.
//
// Values come from hardcoded defaults, an optional YAML file and RAGFUS_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete ragfus configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Search     SearchConfig     `koanf:"search"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// UploadDir receives files posted to /upload.
	UploadDir string `koanf:"upload_dir"`
	// MaxUploadMB caps request bodies.
	MaxUploadMB int `koanf:"max_upload_mb"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
}

// StoreConfig holds SQLite configuration.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// EmbeddingsConfig holds encoder configuration.
type EmbeddingsConfig struct {
	Model        string `koanf:"model"`
	ModelDir     string `koanf:"model_dir"`
	CacheDir     string `koanf:"cache_dir"`
	MaxLength    int    `koanf:"max_length"`
	Dimension    int    `koanf:"dimension"`
	ONNXLibrary  string `koanf:"onnx_library"`
	OutputName   string `koanf:"output_name"`
	TokenTypeIDs *bool  `koanf:"token_type_ids"`
}

// IngestConfig holds directory ingestion configuration.
type IngestConfig struct {
	// Extensions is the default allowlist, leading dot included.
	Extensions []string `koanf:"extensions"`

	// IgnoreFiles are gitignore-style files read from the root of each
	// directory walk. An empty list disables exclusion.
	IgnoreFiles []string `koanf:"ignore_files"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultTopK   int `koanf:"default_top_k"`
	PreviewLength int `koanf:"preview_length"`
	PreviewMax    int `koanf:"preview_max"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling *bool  `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// DefaultExtensions is the directory ingestion allowlist. The empty string
// admits files without an extension.
var DefaultExtensions = []string{".txt", ".md", ".csv", ".json", ".html", ".docx", ".pdf", ".py", ""}

// DefaultIgnoreFile is read from the root of each ingested directory.
const DefaultIgnoreFile = ".ragfusignore"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.UploadDir == "" {
		cfg.Server.UploadDir = "uploads"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 16
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "documents.db"
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-base-en-v1.5"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.cache/ragfus/models"
	}
	if cfg.Embeddings.MaxLength == 0 {
		cfg.Embeddings.MaxLength = 512
	}
	if cfg.Embeddings.OutputName == "" {
		cfg.Embeddings.OutputName = "last_hidden_state"
	}
	if cfg.Embeddings.TokenTypeIDs == nil {
		v := true
		cfg.Embeddings.TokenTypeIDs = &v
	}

	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Ingest.IgnoreFiles == nil {
		cfg.Ingest.IgnoreFiles = []string{DefaultIgnoreFile}
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.PreviewLength == 0 {
		cfg.Search.PreviewLength = 200
	}
	if cfg.Search.PreviewMax == 0 {
		cfg.Search.PreviewMax = 5000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Sampling == nil {
		v := true
		cfg.Logging.Sampling = &v
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ragfus"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb cannot be negative, got %d", c.Server.MaxUploadMB))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit cannot be negative, got %v", c.Server.RateLimit))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Embeddings.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.max_length must be positive, got %d", c.Embeddings.MaxLength))
	}
	if c.Embeddings.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimension cannot be negative, got %d", c.Embeddings.Dimension))
	}
	for _, ext := range c.Ingest.Extensions {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("ingest.extensions entries must start with '.', got %q", ext))
		}
	}
	if c.Search.DefaultTopK < 0 {
		errs = append(errs, fmt.Errorf("search.default_top_k cannot be negative, got %d", c.Search.DefaultTopK))
	}
	if c.Search.PreviewLength <= 0 || c.Search.PreviewMax <= 0 {
		errs = append(errs, errors.New("search preview lengths must be positive"))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}

// TokenTypeIDsEnabled reports whether the encoder feeds token_type_ids.
func (e EmbeddingsConfig) TokenTypeIDsEnabled() bool {
	return e.TokenTypeIDs == nil || *e.TokenTypeIDs
}

// SamplingEnabled reports whether log sampling is on.
func (l LoggingConfig) SamplingEnabled() bool {
	return l.Sampling == nil || *l.Sampling
}

// Duration is a non-negative time.Duration read from Go duration strings
// such as "10s" or "1m30s". server.shutdown_timeout and
// telemetry.export_interval use it, from YAML or RAGFUS_* variables.
type Duration time.Duration

// UnmarshalText parses a duration string and rejects negative values.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders d the way UnmarshalText reads it.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
