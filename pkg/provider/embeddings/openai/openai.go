// Package openai provides an embeddings provider for OpenAI and any
// OpenAI-compatible embeddings endpoint, including Together AI's /v1 API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// TogetherBaseURL is Together AI's OpenAI-compatible API root.
const TogetherBaseURL = "https://api.together.xyz/v1"

var (
	_ embeddings.Provider = (*Provider)(nil)
	_ embeddings.Function = (*Provider)(nil)
)

// Provider implements embeddings.Provider using the openai-go client.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
}

type config struct {
	model        string
	baseURL      string
	organization string
	timeout      time.Duration
	httpClient   *http.Client
	dimensions   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient supplies the HTTP client; it takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithDimensions pins the reported vector size for models the built-in table
// does not know.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs an OpenAI-compatible embeddings Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are the caller's decision.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	dims := cfg.dimensions
	if dims == 0 {
		dims = modelDimensions(cfg.model)
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      cfg.model,
		dimensions: dims,
	}, nil
}

// Generate implements embeddings.Function. Results are placed by the index
// field of each returned embedding.
func (p *Provider) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: generate: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		if result[e.Index] != nil {
			return nil, fmt.Errorf("openai embeddings: duplicate index %d", e.Index)
		}
		result[e.Index] = float64ToFloat32(e.Embedding)
	}
	if err := embeddings.Validate(texts, result); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	return result, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.Generate(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.Generate(ctx, texts)
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// modelDimensions returns the embedding dimensions for known models served
// over OpenAI-compatible APIs, or 0 for models it does not know. Callers then
// need [WithDimensions].
func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	case strings.Contains(lower, "m2-bert"), strings.Contains(lower, "bge-base"):
		return 768
	case strings.Contains(lower, "bge-large"), strings.Contains(lower, "uae-large"):
		return 1024
	default:
		return 0
	}
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
