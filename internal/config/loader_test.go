package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/embedkit/internal/config"
)

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
  shutdown_timeout: 5s
embeddings:
  name: together
  api_key: tk-123
  model: BAAI/bge-large-en-v1.5
  timeout: 30s
store:
  postgres_dsn: postgres://localhost/embedkit
  embedding_dimensions: 1024
index:
  batch_size: 16
  concurrency: 2
  default_top_k: 3
failover:
  max_failures: 2
  reset_timeout: 1m
  fallbacks:
    - name: openai
      api_key: oa-456
      base_url: https://api.together.xyz/v1
      model: BAAI/bge-large-en-v1.5
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown_timeout = %s, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Embeddings.APIKey != "tk-123" || cfg.Embeddings.Model != "BAAI/bge-large-en-v1.5" {
		t.Errorf("embeddings = %+v", cfg.Embeddings)
	}
	if cfg.Embeddings.Timeout != 30*time.Second {
		t.Errorf("embeddings.timeout = %s, want 30s", cfg.Embeddings.Timeout)
	}
	if cfg.Store.EmbeddingDimensions != 1024 {
		t.Errorf("embedding_dimensions = %d, want 1024", cfg.Store.EmbeddingDimensions)
	}
	if cfg.Index != (config.IndexConfig{BatchSize: 16, Concurrency: 2, DefaultTopK: 3}) {
		t.Errorf("index = %+v", cfg.Index)
	}
	if fo := cfg.Failover; fo.MaxFailures != 2 || fo.ResetTimeout != time.Minute || len(fo.Fallbacks) != 1 {
		t.Fatalf("failover = %+v", fo)
	}
	if fb := cfg.Failover.Fallbacks[0]; fb.Name != "openai" || fb.APIKey != "oa-456" {
		t.Errorf("fallback = %+v", fb)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Embeddings.Name != "together" {
		t.Errorf("embeddings.name = %q, want together", cfg.Embeddings.Name)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Index.BatchSize != 32 || cfg.Index.Concurrency != 4 || cfg.Index.DefaultTopK != 5 {
		t.Errorf("index = %+v", cfg.Index)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("embeddings:\n  modle: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
  tls:
    cert_file: cert.pem
index:
  batch_size: -1
  concurrency: -2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"log_level", "tls", "batch_size", "concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvTogetherAPIKey: "from-env",
		config.EnvPostgresDSN:    "postgres://env/db",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	t.Run("fills empty values", func(t *testing.T) {
		cfg := &config.Config{}
		config.ApplyEnv(cfg, lookup)
		if cfg.Embeddings.APIKey != "from-env" {
			t.Errorf("api_key = %q, want from-env", cfg.Embeddings.APIKey)
		}
		if cfg.Store.PostgresDSN != "postgres://env/db" {
			t.Errorf("postgres_dsn = %q, want env value", cfg.Store.PostgresDSN)
		}
	})

	t.Run("explicit values win", func(t *testing.T) {
		cfg := &config.Config{
			Embeddings: config.ProviderEntry{Name: "together", APIKey: "explicit"},
			Store:      config.StoreConfig{PostgresDSN: "postgres://explicit"},
		}
		config.ApplyEnv(cfg, lookup)
		if cfg.Embeddings.APIKey != "explicit" || cfg.Store.PostgresDSN != "postgres://explicit" {
			t.Errorf("explicit values overwritten: %+v", cfg)
		}
	})

	t.Run("fills together fallbacks only", func(t *testing.T) {
		cfg := &config.Config{Failover: config.FailoverConfig{Fallbacks: []config.ProviderEntry{
			{Name: "together"},
			{Name: "openai"},
		}}}
		config.ApplyEnv(cfg, lookup)
		if got := cfg.Failover.Fallbacks[0].APIKey; got != "from-env" {
			t.Errorf("together fallback api_key = %q, want from-env", got)
		}
		if got := cfg.Failover.Fallbacks[1].APIKey; got != "" {
			t.Errorf("openai fallback api_key = %q, want empty", got)
		}
	})

	t.Run("together key not used for other providers", func(t *testing.T) {
		cfg := &config.Config{Embeddings: config.ProviderEntry{Name: "openai"}}
		config.ApplyEnv(cfg, lookup)
		if cfg.Embeddings.APIKey != "" {
			t.Errorf("api_key = %q, want empty", cfg.Embeddings.APIKey)
		}
	})
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
embeddings:
  name: openai
  options:
    organization: org-1
    dimensions: 256
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Embeddings.OptString("organization"); got != "org-1" {
		t.Errorf("OptString = %q, want org-1", got)
	}
	if got := cfg.Embeddings.OptInt("dimensions"); got != 256 {
		t.Errorf("OptInt = %d, want 256", got)
	}
	if got := cfg.Embeddings.OptString("missing"); got != "" {
		t.Errorf("OptString(missing) = %q, want empty", got)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	if config.LogDebug.Level().String() != "DEBUG" || config.LogLevel("").Level().String() != "INFO" {
		t.Error("LogLevel.Level mapping is wrong")
	}
}
