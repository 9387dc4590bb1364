// Package server exposes embedding and semantic search over HTTP.
//
// Routes:
//
//	POST   /v1/embeddings                           OpenAI-shaped embedding endpoint
//	GET    /v1/collections/{collection}             document count
//	POST   /v1/collections/{collection}/documents   index documents
//	DELETE /v1/collections/{collection}/documents   delete documents by ID
//	POST   /v1/collections/{collection}/query       semantic search
//	GET    /healthz, /readyz                        liveness and readiness
//	GET    /metrics                                 Prometheus scrape endpoint
//
// Every route is wrapped in [observe.Middleware].
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MrWong99/embedkit/internal/health"
	"github.com/MrWong99/embedkit/internal/observe"
	"github.com/MrWong99/embedkit/internal/pipeline"
	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
	"github.com/MrWong99/embedkit/pkg/provider/embeddings/together"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 16 << 20

// Server serves the embedkit HTTP API.
type Server struct {
	provider embeddings.Provider
	fn       embeddings.Function
	indexer  *pipeline.Indexer
	health   *health.Handler
	metrics  *observe.Metrics
	promH    http.Handler
	checks   []health.Checker

	defaultTopK atomic.Int64
}

// Option is a functional option for [New].
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promH = h }
}

// WithHealth replaces the default readiness checks (store ping and
// embeddings dimensions).
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithChecks adds readiness checks to the defaults. It has no effect when
// [WithHealth] is used.
func WithChecks(checks ...health.Checker) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithDefaultTopK sets the result count for queries that omit top_k.
func WithDefaultTopK(n int) Option {
	return func(s *Server) { s.SetDefaultTopK(n) }
}

// New creates a [Server]. provider backs /v1/embeddings; indexer backs the
// collection routes.
func New(provider embeddings.Provider, indexer *pipeline.Indexer, opts ...Option) *Server {
	s := &Server{
		provider: provider,
		fn:       embeddings.FunctionOf(provider),
		indexer:  indexer,
	}
	s.defaultTopK.Store(5)
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		checks := []health.Checker{
			{Name: "store", Check: indexer.Ping},
			health.EmbeddingsChecker(provider),
		}
		s.health = health.New(append(checks, s.checks...)...)
	}
	return s
}

// SetDefaultTopK changes the default result count. Non-positive values are
// ignored.
func (s *Server) SetDefaultTopK(n int) {
	if n > 0 {
		s.defaultTopK.Store(int64(n))
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", s.handleEmbeddings)
	mux.HandleFunc("GET /v1/collections/{collection}", s.handleCount)
	mux.HandleFunc("POST /v1/collections/{collection}/documents", s.handleIndex)
	mux.HandleFunc("DELETE /v1/collections/{collection}/documents", s.handleDelete)
	mux.HandleFunc("POST /v1/collections/{collection}/query", s.handleQuery)
	s.health.Register(mux)
	if s.promH != nil {
		mux.Handle("GET /metrics", s.promH)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout. TLS is used when certFile and keyFile
// are both set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	slog.Info("http server listening", "addr", addr, "tls", certFile != "")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Input) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "input is required")
		return
	}
	if req.Model != "" && req.Model != s.provider.ModelID() {
		writeError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("model %q is not served here; configured model is %q", req.Model, s.provider.ModelID()))
		return
	}

	vecs, err := s.fn.Generate(r.Context(), req.Input)
	if err != nil {
		s.writeUpstreamError(w, r, providerError{err})
		return
	}

	resp := embeddingsResponse{
		Object: "list",
		Model:  s.provider.ModelID(),
		Data:   make([]embeddingData, len(vecs)),
	}
	for i, v := range vecs {
		resp.Data[i] = embeddingData{Object: "embedding", Index: i, Embedding: v}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	n, err := s.indexer.Count(r.Context(), collection, nil)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Collection: collection, Documents: n})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !decode(w, r, &req) {
		return
	}
	sum, err := s.indexer.Index(r.Context(), r.PathValue("collection"), req.Documents)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := s.indexer.Delete(r.Context(), r.PathValue("collection"), req.IDs)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: n})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = int(s.defaultTopK.Load())
	}
	results, err := s.indexer.Search(r.Context(), r.PathValue("collection"), req.Query, topK, req.Metadata)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	resp := queryResponse{Results: make([]queryResult, len(results))}
	for i, res := range results {
		resp.Results[i] = queryResult{
			ID:       res.Document.ID,
			Content:  res.Document.Content,
			Metadata: res.Document.Metadata,
			Distance: res.Distance,
		}
		if req.IncludeEmbeddings {
			resp.Results[i].Embedding = res.Document.Embedding
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// providerError marks a direct provider failure on /v1/embeddings. It keeps
// the provider's message unchanged.
type providerError struct{ err error }

func (e providerError) Error() string { return e.err.Error() }
func (e providerError) Unwrap() error { return e.err }

// writeUpstreamError maps embedding and pipeline failures to HTTP statuses.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *together.Error
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery), errors.Is(err, pipeline.ErrCollectionRequired):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream_error", err.Error())
	case errors.As(err, &apiErr):
		observe.Logger(r.Context()).Warn("embedding provider error", "status", apiErr.StatusCode, "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	case errors.Is(err, pipeline.ErrEmbedding), errors.As(err, new(providerError)):
		observe.Logger(r.Context()).Warn("embedding failed", "err", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		s.writeInternal(w, r, err)
	}
}

func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
