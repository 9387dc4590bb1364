// Package together provides an embeddings provider backed by the Together AI
// embeddings REST endpoint.
//
// Each call issues exactly one POST to /api/v1/embeddings carrying the full
// input list and the configured model, and maps the JSON response into one
// float32 vector per input, in order. There is no retry, batching, or caching
// layer: a call either fully succeeds or fails with a single [*Error].
//
// Example usage:
//
//	p, err := together.New(os.Getenv("TOGETHER_API_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vecs, err := p.Generate(ctx, []string{"first passage", "second passage"})
package together

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
)

const (
	// DefaultBaseURL is the Together AI API host.
	DefaultBaseURL = "https://api.together.xyz"

	// DefaultModel is used when no model name is configured.
	DefaultModel = "togethercomputer/m2-bert-80M-8k-retrieval"

	embeddingsPath = "/api/v1/embeddings"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 64 << 20
)

// Compile-time interface checks.
var (
	_ embeddings.Provider = (*Provider)(nil)
	_ embeddings.Function = (*Provider)(nil)
)

// Config mirrors the construction-time options recognised by the adapter.
type Config struct {
	// APIKey is the Together AI credential. Required.
	APIKey string `yaml:"together_api_key" json:"together_api_key"`

	// ModelName selects the embedding model. Empty means [DefaultModel].
	ModelName string `yaml:"model_name" json:"model_name"`
}

// Provider implements [embeddings.Provider] and [embeddings.Function] against
// the Together AI API. It holds no mutable state beyond lazily detected
// dimensions and is safe for concurrent use.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client

	// dimensions is fixed at construction; zero means "probe on first use".
	dimensions int

	// mu guards detected. Only a successful probe is cached.
	mu       sync.Mutex
	detected int
}

// probeTimeout bounds the dimension probe request.
const probeTimeout = 10 * time.Second

type config struct {
	model      string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides [DefaultModel]. An empty name keeps the default.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL points the provider at a different host, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithHTTPClient supplies the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithTimeout sets a per-request timeout on the default HTTP client. It is
// ignored when [WithHTTPClient] is used. Callers can also bound a single call
// through its context.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension and skips both the known
// model table and the probe request.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a Together AI embeddings Provider. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("together embeddings: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	model := cfg.model
	if model == "" {
		model = DefaultModel
	}
	baseURL := cfg.baseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
		if cfg.timeout > 0 {
			hc.Timeout = cfg.timeout
		}
	}

	dims := cfg.dimensions
	if dims == 0 {
		dims = knownDimensions(model)
	}

	return &Provider{
		apiKey:     apiKey,
		model:      model,
		endpoint:   baseURL + embeddingsPath,
		httpClient: hc,
		dimensions: dims,
	}, nil
}

// NewFromConfig constructs a Provider from a [Config]. Options are applied
// after the config's model name.
func NewFromConfig(c Config, opts ...Option) (*Provider, error) {
	return New(c.APIKey, append([]Option{WithModel(c.ModelName)}, opts...)...)
}

// Generate implements [embeddings.Function]. It sends texts in one request and
// returns one vector per text in input order.
//
// Every failure is returned as a *[Error]. An empty texts slice returns
// (nil, nil) without a network call.
func (p *Provider) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	vecs, err := p.call(ctx, texts)
	if err != nil {
		slog.Debug("together embeddings: call failed",
			"model", p.model,
			"texts", len(texts),
			"duration", time.Since(start),
			"err", err,
		)
		return nil, err
	}
	slog.Debug("together embeddings: call completed",
		"model", p.model,
		"texts", len(texts),
		"dimensions", len(vecs[0]),
		"duration", time.Since(start),
	)
	return vecs, nil
}

// Embed implements [embeddings.Provider] for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Generate(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider]. It is equivalent to Generate.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.Generate(ctx, texts)
}

// Dimensions implements [embeddings.Provider].
//
// The value is resolved from [WithDimensions], then the known model table,
// then a probe request. A successful probe is cached; a failed one returns 0
// and is retried on the next call.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detected != 0 {
		return p.detected
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	vecs, err := p.call(ctx, []string{"probe"})
	if err != nil {
		slog.Warn("together embeddings: dimension probe failed", "model", p.model, "err", err)
		return 0
	}
	p.detected = len(vecs[0])
	return p.detected
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string {
	return p.model
}

// call performs the single POST and decodes the outcome. All errors are
// returned as *Error.
func (p *Provider) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, wrapErr(0, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, wrapErr(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, wrapErr(0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, wrapErr(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	res, err := decodeResult(resp.StatusCode, raw)
	if err != nil {
		return nil, wrapErr(resp.StatusCode, err)
	}

	switch r := res.(type) {
	case failure:
		return nil, apiErr(resp.StatusCode, r.message)
	case success:
		if len(r.vectors) != len(texts) {
			return nil, wrapErr(resp.StatusCode, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(r.vectors)))
		}
		return r.vectors, nil
	default:
		return nil, wrapErr(resp.StatusCode, errors.New("unrecognised response"))
	}
}

// knownDimensions returns the output dimension for recognised Together
// embedding models, or 0 for unknown models.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "m2-bert"):
		return 768
	case strings.Contains(lower, "bge-large"):
		return 1024
	case strings.Contains(lower, "bge-base"):
		return 768
	case strings.Contains(lower, "uae-large"):
		return 1024
	case strings.Contains(lower, "multilingual-e5-large"):
		return 1024
	case strings.Contains(lower, "msmarco-bert-base"):
		return 768
	default:
		return 0
	}
}
