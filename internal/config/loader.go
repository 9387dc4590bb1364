package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the matching config value is empty.
const (
	EnvTogetherAPIKey = "TOGETHER_API_KEY"
	EnvPostgresDSN    = "EMBEDKIT_POSTGRES_DSN"
)

// ValidProviderNames lists the embeddings providers built into embedkit.
var ValidProviderNames = []string{"together", "openai"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment fallbacks applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r. Unknown keys are rejected. An empty
// document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills secrets and DSNs left empty in cfg from the environment.
// lookup is normally [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	togetherKey, hasKey := lookup(EnvTogetherAPIKey)
	if hasKey && cfg.Embeddings.APIKey == "" && (cfg.Embeddings.Name == "" || cfg.Embeddings.Name == "together") {
		cfg.Embeddings.APIKey = togetherKey
	}
	for i := range cfg.Failover.Fallbacks {
		fb := &cfg.Failover.Fallbacks[i]
		if hasKey && fb.APIKey == "" && fb.Name == "together" {
			fb.APIKey = togetherKey
		}
	}
	if cfg.Store.PostgresDSN == "" {
		if v, ok := lookup(EnvPostgresDSN); ok {
			cfg.Store.PostgresDSN = v
		}
	}
}

// Validate checks that cfg is coherent and returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	if name := cfg.Embeddings.Name; name != "" && !slices.Contains(ValidProviderNames, name) {
		slog.Warn("unknown embeddings provider name, may be a typo or third-party provider",
			"name", name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Embeddings.Timeout < 0 {
		errs = append(errs, fmt.Errorf("embeddings.timeout %s must not be negative", cfg.Embeddings.Timeout))
	}

	for i, fb := range cfg.Failover.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("failover.fallbacks[%d].name is required", i))
		} else if !slices.Contains(ValidProviderNames, fb.Name) {
			slog.Warn("unknown fallback provider name, may be a typo or third-party provider",
				"name", fb.Name,
				"known", ValidProviderNames,
			)
		}
		if fb.Timeout < 0 {
			errs = append(errs, fmt.Errorf("failover.fallbacks[%d].timeout %s must not be negative", i, fb.Timeout))
		}
	}
	if cfg.Failover.MaxFailures < 0 || cfg.Failover.HalfOpenMax < 0 || cfg.Failover.ResetTimeout < 0 {
		errs = append(errs, errors.New("failover.max_failures, half_open_max and reset_timeout must not be negative"))
	}

	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", cfg.Store.EmbeddingDimensions))
	}

	if cfg.Index.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("index.batch_size %d must not be negative", cfg.Index.BatchSize))
	}
	if cfg.Index.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("index.concurrency %d must not be negative", cfg.Index.Concurrency))
	}
	if cfg.Index.DefaultTopK < 0 {
		errs = append(errs, fmt.Errorf("index.default_top_k %d must not be negative", cfg.Index.DefaultTopK))
	}

	return errors.Join(errs...)
}
