package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/embedkit/internal/config"
	"github.com/MrWong99/embedkit/internal/health"
	"github.com/MrWong99/embedkit/internal/mcpserver"
	"github.com/MrWong99/embedkit/internal/observe"
	"github.com/MrWong99/embedkit/internal/pipeline"
	"github.com/MrWong99/embedkit/internal/server"
	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
)

// maxLineBytes bounds a single stdin line for embed and index.
const maxLineBytes = 4 << 20

// ── embed ─────────────────────────────────────────────────────────────────────

// runEmbed embeds args, or one text per input line when no args are given,
// and writes one JSON object per text to stdout.
func runEmbed(ctx context.Context, p embeddings.Function, f flags, args []string) error {
	texts := args
	if len(texts) == 0 {
		var err error
		if texts, err = readLines(f.file); err != nil {
			return err
		}
	}
	if len(texts) == 0 {
		return errors.New("embed: no input texts")
	}

	vecs, err := p.Generate(ctx, texts)
	if err != nil {
		return err
	}
	if err := embeddings.Validate(texts, vecs); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for i, v := range vecs {
		if err := enc.Encode(struct {
			Index     int       `json:"index"`
			Text      string    `json:"text"`
			Embedding []float32 `json:"embedding"`
		}{i, texts[i], v}); err != nil {
			return fmt.Errorf("embed: write output: %w", err)
		}
	}
	return nil
}

// ── index ─────────────────────────────────────────────────────────────────────

// runIndex reads JSON-lines documents ({"id","content","metadata"}) and
// indexes them into the selected collection. Bare text lines and args are
// indexed as content with a derived ID.
func runIndex(ctx context.Context, ix *pipeline.Indexer, f flags, args []string) error {
	var inputs []pipeline.Input
	for _, a := range args {
		inputs = append(inputs, pipeline.Input{Content: a})
	}
	if len(args) == 0 {
		lines, err := readLines(f.file)
		if err != nil {
			return err
		}
		for n, line := range lines {
			if !strings.HasPrefix(strings.TrimSpace(line), "{") {
				inputs = append(inputs, pipeline.Input{Content: line})
				continue
			}
			var in pipeline.Input
			if err := json.Unmarshal([]byte(line), &in); err != nil {
				return fmt.Errorf("index: line %d: %w", n+1, err)
			}
			inputs = append(inputs, in)
		}
	}

	sum, err := ix.Index(ctx, f.collection, inputs)
	if err != nil {
		return err
	}
	slog.Info("indexed documents",
		"collection", sum.Collection,
		"documents", sum.Documents,
		"skipped", sum.Skipped,
		"batches", sum.Batches,
		"duration", sum.Duration,
	)
	return json.NewEncoder(os.Stdout).Encode(sum)
}

// ── query ─────────────────────────────────────────────────────────────────────

func runQuery(ctx context.Context, ix *pipeline.Indexer, cfg *config.Config, f flags, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	metadata, err := parseMetadata(f.metadata)
	if err != nil {
		return err
	}
	topK := f.topK
	if topK <= 0 {
		topK = cfg.Index.DefaultTopK
	}

	results, err := ix.Search(ctx, f.collection, query, topK, metadata)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(struct {
			ID       string            `json:"id"`
			Distance float64           `json:"distance"`
			Content  string            `json:"content"`
			Metadata map[string]string `json:"metadata,omitempty"`
		}{r.Document.ID, r.Distance, r.Document.Content, r.Document.Metadata}); err != nil {
			return fmt.Errorf("query: write output: %w", err)
		}
	}
	return nil
}

// parseMetadata parses "k=v,k2=v2".
func parseMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for pair := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid metadata pair %q (want key=value)", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// ── mcp ───────────────────────────────────────────────────────────────────────

func runMCP(ctx context.Context, p embeddings.Provider, ix *pipeline.Indexer, cfg *config.Config) error {
	s := mcpserver.New(p, ix,
		mcpserver.WithVersion(version),
		mcpserver.WithDefaultTopK(cfg.Index.DefaultTopK),
	)
	return s.Run(ctx)
}

// ── serve ─────────────────────────────────────────────────────────────────────

// initTelemetry installs the global OpenTelemetry providers with a Prometheus
// registry and returns the metrics, the scrape handler and the shutdown func.
func initTelemetry(ctx context.Context) (*observe.Metrics, http.Handler, func(context.Context) error, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     registry,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	promH := promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return observe.DefaultMetrics(), promH, shutdown, nil
}

func runServe(ctx context.Context, p embeddings.Provider, ix *pipeline.Indexer, cfg *config.Config, f flags, levelVar *slog.LevelVar, m *observe.Metrics, promH http.Handler, checks []health.Checker) error {
	srv := server.New(p, ix,
		server.WithMetrics(m),
		server.WithChecks(checks...),
		server.WithMetricsHandler(promH),
		server.WithDefaultTopK(cfg.Index.DefaultTopK),
	)

	// Hot reload applies the log level and index limits; everything else
	// needs a restart.
	if _, err := os.Stat(f.configPath); err == nil {
		w, err := config.NewWatcher(f.configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				levelVar.Set(d.NewLogLevel.Level())
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if d.IndexChanged {
				ix.SetLimits(d.NewIndex.BatchSize, d.NewIndex.Concurrency)
				srv.SetDefaultTopK(d.NewIndex.DefaultTopK)
				slog.Info("index settings changed",
					"batch_size", d.NewIndex.BatchSize,
					"concurrency", d.NewIndex.Concurrency,
					"default_top_k", d.NewIndex.DefaultTopK,
				)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	printStartupSummary(cfg, p)

	var certFile, keyFile string
	if tls := cfg.Server.TLS; tls != nil {
		certFile, keyFile = tls.CertFile, tls.KeyFile
	}
	return srv.ListenAndServe(ctx, cfg.Server.ListenAddr, certFile, keyFile, cfg.Server.ShutdownTimeout)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, p embeddings.Provider) {
	store := "in-memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         embedkit startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Embeddings.Name)
	printRow("Model", p.ModelID())
	printRow("Store", store)
	printRow("Batch size", fmt.Sprint(cfg.Index.BatchSize))
	printRow("Concurrency", fmt.Sprint(cfg.Index.Concurrency))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", label, truncate(value, 19))
}

// truncate shortens s to at most n runes, ending in "…" when cut. fmt pads
// by runes, so the box stays aligned for non-ASCII values.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// readLines returns the non-blank lines of path, or of stdin when path is "".
func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		fh, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer fh.Close()
		r = fh
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		if line := sc.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}
