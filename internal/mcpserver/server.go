// Package mcpserver exposes embedding and semantic search as MCP tools.
//
// Three tools are registered by [New]:
//   - "embed_texts": embeds a list of texts with the configured model.
//   - "index_documents": embeds documents and stores them in a collection.
//   - "semantic_search": nearest-neighbour lookup within a collection.
//
// Tool failures are reported as tool results with IsError set, so the calling
// model sees the message instead of a protocol error.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/embedkit/internal/pipeline"
	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
)

// Server wraps an MCP server whose tools are backed by an embeddings
// provider and an indexer.
type Server struct {
	provider    embeddings.Provider
	fn          embeddings.Function
	indexer     *pipeline.Indexer
	version     string
	defaultTopK int

	mcp *mcpsdk.Server
}

// Option is a functional option for [New].
type Option func(*Server)

// WithVersion sets the implementation version announced to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithDefaultTopK sets the result count used when semantic_search omits
// top_k. Defaults to 5.
func WithDefaultTopK(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.defaultTopK = n
		}
	}
}

// New creates a [Server] and registers its tools.
func New(provider embeddings.Provider, indexer *pipeline.Indexer, opts ...Option) *Server {
	s := &Server{
		provider:    provider,
		fn:          embeddings.FunctionOf(provider),
		indexer:     indexer,
		version:     "dev",
		defaultTopK: 5,
	}
	for _, o := range opts {
		o(s)
	}

	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "embedkit", Version: s.version}, nil)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "embed_texts",
		Description: "Embed one or more texts and return their vectors.",
	}, s.embedTexts)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "index_documents",
		Description: "Embed documents and store them in a collection for semantic search.",
	}, s.indexDocuments)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "semantic_search",
		Description: "Find the documents in a collection closest in meaning to a query.",
	}, s.semanticSearch)
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Connect attaches the server to transport and returns the session.
func (s *Server) Connect(ctx context.Context, transport mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	session, err := s.mcp.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpserver: connect: %w", err)
	}
	return session, nil
}

// Run serves over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("mcp server running on stdio", "model", s.provider.ModelID())
	if err := s.mcp.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcpserver: run: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// embed_texts
// ─────────────────────────────────────────────────────────────────────────────

type embedTextsArgs struct {
	Texts []string `json:"texts" jsonschema:"the texts to embed"`
}

type embedTextsResult struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (s *Server) embedTexts(ctx context.Context, _ *mcpsdk.CallToolRequest, args embedTextsArgs) (*mcpsdk.CallToolResult, embedTextsResult, error) {
	if len(args.Texts) == 0 {
		return toolError("embed_texts: texts must not be empty"), embedTextsResult{}, nil
	}
	vecs, err := s.fn.Generate(ctx, args.Texts)
	if err != nil {
		return toolError("embed_texts: %v", err), embedTextsResult{}, nil
	}
	if err := embeddings.Validate(args.Texts, vecs); err != nil {
		return toolError("embed_texts: %v", err), embedTextsResult{}, nil
	}
	out := embedTextsResult{
		Model:      s.provider.ModelID(),
		Dimensions: len(vecs[0]),
		Embeddings: vecs,
	}
	return textResult(out)
}

// ─────────────────────────────────────────────────────────────────────────────
// index_documents
// ─────────────────────────────────────────────────────────────────────────────

type indexDocumentsArgs struct {
	Collection string           `json:"collection" jsonschema:"name of the collection to store into"`
	Documents  []pipeline.Input `json:"documents" jsonschema:"documents with content and optional id and metadata"`
}

type indexDocumentsResult struct {
	Collection string   `json:"collection"`
	Documents  int      `json:"documents"`
	Skipped    int      `json:"skipped"`
	IDs        []string `json:"ids"`
}

func (s *Server) indexDocuments(ctx context.Context, _ *mcpsdk.CallToolRequest, args indexDocumentsArgs) (*mcpsdk.CallToolResult, indexDocumentsResult, error) {
	sum, err := s.indexer.Index(ctx, args.Collection, args.Documents)
	if err != nil {
		return toolError("index_documents: %v", err), indexDocumentsResult{}, nil
	}
	out := indexDocumentsResult{
		Collection: sum.Collection,
		Documents:  sum.Documents,
		Skipped:    sum.Skipped,
		IDs:        sum.IDs,
	}
	if out.IDs == nil {
		out.IDs = []string{}
	}
	return textResult(out)
}

// ─────────────────────────────────────────────────────────────────────────────
// semantic_search
// ─────────────────────────────────────────────────────────────────────────────

type semanticSearchArgs struct {
	Collection string            `json:"collection" jsonschema:"collection to search"`
	Query      string            `json:"query" jsonschema:"natural-language query"`
	TopK       int               `json:"top_k,omitempty" jsonschema:"maximum number of results"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"only return documents whose metadata contains these pairs"`
}

type searchHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Distance float64           `json:"distance"`
}

type semanticSearchResult struct {
	Results []searchHit `json:"results"`
}

func (s *Server) semanticSearch(ctx context.Context, _ *mcpsdk.CallToolRequest, args semanticSearchArgs) (*mcpsdk.CallToolResult, semanticSearchResult, error) {
	topK := args.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}
	results, err := s.indexer.Search(ctx, args.Collection, args.Query, topK, args.Metadata)
	if err != nil {
		return toolError("semantic_search: %v", err), semanticSearchResult{}, nil
	}
	out := semanticSearchResult{Results: make([]searchHit, len(results))}
	for i, r := range results {
		out.Results[i] = searchHit{
			ID:       r.Document.ID,
			Content:  r.Document.Content,
			Metadata: r.Document.Metadata,
			Distance: r.Distance,
		}
	}
	return textResult(out)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func toolError(format string, args ...any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// textResult returns out both as structured content and as its JSON text.
func textResult[T any](out T) (*mcpsdk.CallToolResult, T, error) {
	b, err := json.Marshal(out)
	if err != nil {
		var zero T
		return nil, zero, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, out, nil
}
