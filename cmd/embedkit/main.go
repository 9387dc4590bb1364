// Command embedkit embeds text with Together AI (or an OpenAI-compatible
// endpoint) and serves semantic search over a pgvector or in-memory store.
//
// Usage:
//
//	embedkit [serve|embed|index|query|mcp] [flags] [args]
//
// serve is the default subcommand.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/embedkit/internal/config"
	"github.com/MrWong99/embedkit/internal/health"
	"github.com/MrWong99/embedkit/internal/observe"
	"github.com/MrWong99/embedkit/internal/pipeline"
	"github.com/MrWong99/embedkit/internal/resilience"
	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/embedkit/pkg/provider/embeddings/openai"
	"github.com/MrWong99/embedkit/pkg/provider/embeddings/together"
	"github.com/MrWong99/embedkit/pkg/vectorstore"
	storemock "github.com/MrWong99/embedkit/pkg/vectorstore/mock"
	"github.com/MrWong99/embedkit/pkg/vectorstore/postgres"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "embedkit.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

// flags holds the command-line values shared by every subcommand.
type flags struct {
	configPath string
	logLevel   string
	model      string
	listen     string
	collection string
	topK       int
	metadata   string
	file       string
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve", "embed", "index", "query", "mcp":
	default:
		fmt.Fprintf(os.Stderr, "embedkit: unknown command %q (want serve, embed, index, query or mcp)\n", cmd)
		return 2
	}

	// ── CLI flags ──────────────────────────────────────────────────────────────
	var f flags
	fs := flag.NewFlagSet("embedkit "+cmd, flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "path to the YAML configuration file")
	fs.StringVar(&f.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
	fs.StringVar(&f.model, "model", "", "override embeddings.model")
	fs.StringVar(&f.listen, "listen", "", "override server.listen_addr (serve)")
	fs.StringVar(&f.collection, "collection", "default", "collection to index into or search (index, query)")
	fs.IntVar(&f.topK, "top-k", 0, "number of results (query); 0 uses index.default_top_k")
	fs.StringVar(&f.metadata, "metadata", "", "metadata filter as k=v,k=v (query)")
	fs.StringVar(&f.file, "file", "", "read input from this file instead of stdin (embed, index)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	explicitConfig := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "config" {
			explicitConfig = true
		}
	})

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(f.configPath, explicitConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "embedkit: %v\n", err)
		return 1
	}
	if err := applyFlags(cfg, f); err != nil {
		fmt.Fprintf(os.Stderr, "embedkit: %v\n", err)
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(levelVar))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// serve installs the Prometheus-backed meter provider before anything
	// resolves its instruments.
	var (
		metrics           *observe.Metrics
		promH             http.Handler
		shutdownTelemetry func(context.Context) error
	)
	if cmd == "serve" {
		metrics, promH, shutdownTelemetry, err = initTelemetry(ctx)
		if err != nil {
			slog.Error("failed to initialise telemetry", "err", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, checks, err := buildProvider(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// ── Vector store ──────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, provider, metrics)
	if err != nil {
		slog.Error("failed to open vector store", "err", err)
		return 1
	}
	defer closeStore()

	indexer := pipeline.New(provider, store,
		pipeline.WithBatchSize(cfg.Index.BatchSize),
		pipeline.WithConcurrency(cfg.Index.Concurrency),
	)

	slog.Debug("embedkit starting",
		"command", cmd,
		"config", f.configPath,
		"provider", cfg.Embeddings.Name,
		"model", provider.ModelID(),
		"version", version,
	)

	switch cmd {
	case "embed":
		err = runEmbed(ctx, embeddings.FunctionOf(provider), f, fs.Args())
	case "index":
		err = runIndex(ctx, indexer, f, fs.Args())
	case "query":
		err = runQuery(ctx, indexer, cfg, f, fs.Args())
	case "mcp":
		err = runMCP(ctx, provider, indexer, cfg)
	case "serve":
		err = runServe(ctx, provider, indexer, cfg, f, levelVar, metrics, promH, checks)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error(cmd+" failed", "err", err)
		return 1
	}
	return 0
}

// ── Configuration ─────────────────────────────────────────────────────────────

// loadConfig reads path. A missing file is only an error when the path was
// given explicitly; otherwise defaults plus environment are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if explicit {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return config.LoadFromReader(strings.NewReader(""))
}

func applyFlags(cfg *config.Config, f flags) error {
	if f.logLevel != "" {
		lvl := config.LogLevel(f.logLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("invalid -log-level %q", f.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	if f.model != "" {
		cfg.Embeddings.Model = f.model
	}
	if f.listen != "" {
		cfg.Server.ListenAddr = f.listen
	}
	return nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the embeddings factories that ship with
// embedkit into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterEmbeddings("together", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []together.Option{together.WithModel(entry.Model)}
		if entry.BaseURL != "" {
			opts = append(opts, together.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, together.WithTimeout(entry.Timeout))
		}
		if dims := entry.OptInt("dimensions"); dims > 0 {
			opts = append(opts, together.WithDimensions(dims))
		}
		p, err := together.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// openai also reaches Together AI through its OpenAI-compatible /v1 API
	// when base_url is set to oaembed.TogetherBaseURL.
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.Model != "" {
			opts = append(opts, oaembed.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaembed.WithTimeout(entry.Timeout))
		}
		if dims := entry.OptInt("dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		p, err := oaembed.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// buildProvider creates the configured provider and wraps it with spans,
// metrics and logging. With fallbacks configured, each backend is
// instrumented on its own and placed behind a circuit breaker; the returned
// checks then report when every breaker is open.
func buildProvider(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (embeddings.Provider, []health.Checker, error) {
	primary, err := createInstrumented(reg, cfg.Embeddings, m)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Failover.Fallbacks) == 0 {
		return primary, nil, nil
	}

	fo := resilience.NewEmbeddingsFailover(cfg.Embeddings.Name, primary, resilience.BreakerConfig{
		MaxFailures:  cfg.Failover.MaxFailures,
		ResetTimeout: cfg.Failover.ResetTimeout,
		HalfOpenMax:  cfg.Failover.HalfOpenMax,
	})
	for i, entry := range cfg.Failover.Fallbacks {
		p, err := createInstrumented(reg, entry, m)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		name := fmt.Sprintf("%s#%d", entry.Name, i+1)
		if err := fo.AddFallback(name, p); err != nil {
			return nil, nil, err
		}
	}
	slog.Info("embeddings failover enabled", "fallbacks", len(cfg.Failover.Fallbacks))
	return fo, []health.Checker{{Name: "failover", Check: fo.Check}}, nil
}

func createInstrumented(reg *config.Registry, entry config.ProviderEntry, m *observe.Metrics) (embeddings.Provider, error) {
	p, err := reg.CreateEmbeddings(entry)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", p.ModelID())
	return observe.InstrumentProvider(entry.Name, p, m), nil
}

// openStore returns the pgvector store when a DSN is configured and the
// in-memory store otherwise. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, p embeddings.Provider, m *observe.Metrics) (vectorstore.Store, func(), error) {
	dims := cfg.Store.EmbeddingDimensions
	if cfg.Store.PostgresDSN == "" {
		slog.Info("using in-memory vector store; documents are lost on exit")
		return observe.InstrumentStore(storemock.New(dims), m), func() {}, nil
	}

	if dims == 0 {
		dims = p.Dimensions()
	}
	if dims <= 0 {
		return nil, nil, fmt.Errorf("store: cannot determine embedding dimensions for model %q; set store.embedding_dimensions", p.ModelID())
	}
	s, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, dims)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to postgres vector store", "dimensions", dims)
	return observe.InstrumentStore(s, m), s.Close, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger logs to stderr so stdout stays free for command output and the
// MCP stdio transport.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
