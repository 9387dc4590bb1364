// Package config defines embedkit's YAML configuration, its validation, the
// provider registry used to build embedding backends by name, and a polling
// watcher for hot-reloading the safe subset of settings.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root of the YAML configuration file.
type Config struct {
	Server     ServerConfig  `yaml:"server"`
	Embeddings ProviderEntry `yaml:"embeddings"`
	Store      StoreConfig   `yaml:"store"`
	Index      IndexConfig   `yaml:"index"`

	// Failover adds backup embeddings backends behind circuit breakers.
	Failover FailoverConfig `yaml:"failover"`
}

// ServerConfig holds settings for the HTTP API and process-wide logging.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry selects and configures the embeddings backend. Name is the
// key used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider ("together", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty, the
	// TOGETHER_API_KEY environment variable is used for the together
	// provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the embedding model. Empty uses the provider default.
	Model string `yaml:"model"`

	// Timeout bounds a single embedding call. Zero leaves it to the caller's
	// context.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific values (for example "organization" or
	// "dimensions" for the openai provider).
	Options map[string]any `yaml:"options"`
}

// OptString returns Options[key] when it is a string, or "".
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptInt returns Options[key] when it is an integer, or 0.
func (e ProviderEntry) OptInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// StoreConfig configures the vector store.
type StoreConfig struct {
	// PostgresDSN selects the pgvector-backed store. When empty (and
	// EMBEDKIT_POSTGRES_DSN is unset), an in-memory store is used.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions fixes the vector column width. Zero means "ask the
	// embeddings provider".
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// IndexConfig tunes the indexing pipeline.
type IndexConfig struct {
	// BatchSize is the number of texts per embedding call. Default 32.
	BatchSize int `yaml:"batch_size"`

	// Concurrency caps in-flight embedding calls. Default 4.
	Concurrency int `yaml:"concurrency"`

	// DefaultTopK is used by search requests that do not set top_k. Default 5.
	DefaultTopK int `yaml:"default_top_k"`
}

// FailoverConfig lists fallback embeddings backends and tunes the circuit
// breaker placed in front of each backend. Without fallbacks the primary is
// used directly.
type FailoverConfig struct {
	// Fallbacks are tried in order when the primary fails. They must produce
	// vectors of the same width as the primary.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// MaxFailures consecutive failures open a backend's breaker. Default 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects calls. Default 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of probe calls after the reset timeout.
	// Default 3.
	HalfOpenMax int `yaml:"half_open_max"`
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Embeddings.Name == "" {
		c.Embeddings.Name = "together"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Index.BatchSize == 0 {
		c.Index.BatchSize = 32
	}
	if c.Index.Concurrency == 0 {
		c.Index.Concurrency = 4
	}
	if c.Index.DefaultTopK == 0 {
		c.Index.DefaultTopK = 5
	}
}
