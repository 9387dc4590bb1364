package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/embedkit/pkg/provider/embeddings"
	"github.com/MrWong99/embedkit/pkg/vectorstore"
)

// ─────────────────────────────────────────────────────────────────────────────
// Embeddings
// ─────────────────────────────────────────────────────────────────────────────

// InstrumentedProvider decorates an [embeddings.Provider] with a span, metrics,
// and a debug log line per call. It implements both [embeddings.Provider] and
// [embeddings.Function].
type InstrumentedProvider struct {
	name  string
	inner embeddings.Provider
	fn    embeddings.Function
	m     *Metrics
}

var (
	_ embeddings.Provider = (*InstrumentedProvider)(nil)
	_ embeddings.Function = (*InstrumentedProvider)(nil)
)

// InstrumentProvider wraps p. name labels metrics and spans (for example
// "together" or "openai"). When m is nil, [DefaultMetrics] is used.
func InstrumentProvider(name string, p embeddings.Provider, m *Metrics) *InstrumentedProvider {
	if m == nil {
		m = DefaultMetrics()
	}
	return &InstrumentedProvider{name: name, inner: p, fn: embeddings.FunctionOf(p), m: m}
}

// Unwrap returns the decorated provider.
func (ip *InstrumentedProvider) Unwrap() embeddings.Provider { return ip.inner }

// Generate implements [embeddings.Function].
func (ip *InstrumentedProvider) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := ip.observe(ctx, "Generate", len(texts), func(ctx context.Context) error {
		var err error
		out, err = ip.fn.Generate(ctx, texts)
		return err
	})
	return out, err
}

// EmbedBatch implements [embeddings.Provider].
func (ip *InstrumentedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := ip.observe(ctx, "EmbedBatch", len(texts), func(ctx context.Context) error {
		var err error
		out, err = ip.inner.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

// Embed implements [embeddings.Provider].
func (ip *InstrumentedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := ip.observe(ctx, "Embed", 1, func(ctx context.Context) error {
		var err error
		out, err = ip.inner.Embed(ctx, text)
		return err
	})
	return out, err
}

// Dimensions implements [embeddings.Provider].
func (ip *InstrumentedProvider) Dimensions() int { return ip.inner.Dimensions() }

// ModelID implements [embeddings.Provider].
func (ip *InstrumentedProvider) ModelID() string { return ip.inner.ModelID() }

func (ip *InstrumentedProvider) observe(ctx context.Context, op string, texts int, call func(context.Context) error) error {
	model := ip.inner.ModelID()
	ctx, span := StartSpan(ctx, "embeddings."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("embeddings.provider", ip.name),
			attribute.String("embeddings.model", model),
			attribute.Int("embeddings.texts", texts),
		),
	)
	defer span.End()

	start := time.Now()
	err := call(ctx)
	elapsed := time.Since(start)

	ip.m.RecordEmbedding(ctx, ip.name, model, status(err), texts, elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		Logger(ctx).Warn("embedding call failed",
			"provider", ip.name, "model", model, "texts", texts, "err", err)
		return err
	}
	Logger(ctx).Debug("embedding call completed",
		"provider", ip.name, "model", model, "texts", texts, "duration", elapsed)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector store
// ─────────────────────────────────────────────────────────────────────────────

// InstrumentedStore decorates a [vectorstore.Store] with spans and the
// store latency histogram.
type InstrumentedStore struct {
	inner vectorstore.Store
	m     *Metrics
}

var _ vectorstore.Store = (*InstrumentedStore)(nil)

// InstrumentStore wraps s. When m is nil, [DefaultMetrics] is used.
func InstrumentStore(s vectorstore.Store, m *Metrics) *InstrumentedStore {
	if m == nil {
		m = DefaultMetrics()
	}
	return &InstrumentedStore{inner: s, m: m}
}

// Upsert implements [vectorstore.Store].
func (is *InstrumentedStore) Upsert(ctx context.Context, docs []vectorstore.Document) error {
	return is.observe(ctx, "upsert", func(ctx context.Context) error {
		return is.inner.Upsert(ctx, docs)
	})
}

// Query implements [vectorstore.Store].
func (is *InstrumentedStore) Query(ctx context.Context, embedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	var out []vectorstore.Result
	err := is.observe(ctx, "query", func(ctx context.Context) error {
		var err error
		out, err = is.inner.Query(ctx, embedding, topK, filter)
		return err
	})
	return out, err
}

// Delete implements [vectorstore.Store].
func (is *InstrumentedStore) Delete(ctx context.Context, collection string, ids []string) (int, error) {
	var n int
	err := is.observe(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = is.inner.Delete(ctx, collection, ids)
		return err
	})
	return n, err
}

// Count implements [vectorstore.Store].
func (is *InstrumentedStore) Count(ctx context.Context, filter vectorstore.Filter) (int, error) {
	var n int
	err := is.observe(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = is.inner.Count(ctx, filter)
		return err
	})
	return n, err
}

// Ping implements [vectorstore.Store]. Pings are not recorded.
func (is *InstrumentedStore) Ping(ctx context.Context) error { return is.inner.Ping(ctx) }

func (is *InstrumentedStore) observe(ctx context.Context, op string, call func(context.Context) error) error {
	ctx, span := StartSpan(ctx, "vectorstore."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	err := call(ctx)
	is.m.RecordStore(ctx, op, status(err), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
