// Package observe provides the observability primitives shared by embedkit's
// commands: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are bridged to
// Prometheus by [InitProvider], so the HTTP server can expose them on
// /metrics. Tests should build their own [Metrics] with [NewMetrics] and a
// ManualReader rather than touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all embedkit metrics.
const meterName = "github.com/MrWong99/embedkit"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every metric instrument embedkit records. The OTel
// instruments synchronise internally.
type Metrics struct {
	// EmbeddingDuration is the latency of one embedding call. Attributes:
	// provider, model, status.
	EmbeddingDuration metric.Float64Histogram

	// EmbeddingRequests counts embedding calls. Attributes: provider, model,
	// status.
	EmbeddingRequests metric.Int64Counter

	// EmbeddingErrors counts failed embedding calls. Attributes: provider,
	// model.
	EmbeddingErrors metric.Int64Counter

	// EmbeddingTexts counts texts sent for embedding. Attributes: provider,
	// model.
	EmbeddingTexts metric.Int64Counter

	// StoreDuration is the latency of vector store operations. Attributes:
	// op, status.
	StoreDuration metric.Float64Histogram

	// HTTPRequestDuration is the HTTP request latency. Attributes: method,
	// path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for remote
// embedding calls that range from a few milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EmbeddingDuration, err = m.Float64Histogram("embedkit.embeddings.duration",
		metric.WithDescription("Latency of embedding provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingRequests, err = m.Int64Counter("embedkit.embeddings.requests",
		metric.WithDescription("Embedding provider calls by provider, model, and status."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingErrors, err = m.Int64Counter("embedkit.embeddings.errors",
		metric.WithDescription("Failed embedding provider calls by provider and model."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingTexts, err = m.Int64Counter("embedkit.embeddings.texts",
		metric.WithDescription("Texts submitted for embedding by provider and model."),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("embedkit.store.duration",
		metric.WithDescription("Latency of vector store operations by op and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("embedkit.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built from
// [otel.GetMeterProvider] on first use. It panics if instrument creation
// fails, which the global provider never does.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordEmbedding records one embedding call: its latency, the request
// counter, the text counter and, when status is [StatusError], the error
// counter.
func (m *Metrics) RecordEmbedding(ctx context.Context, provider, model, status string, texts int, seconds float64) {
	base := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
	}
	withStatus := metric.WithAttributes(append(base, attribute.String("status", status))...)

	m.EmbeddingDuration.Record(ctx, seconds, withStatus)
	m.EmbeddingRequests.Add(ctx, 1, withStatus)
	m.EmbeddingTexts.Add(ctx, int64(texts), metric.WithAttributes(base...))
	if status == StatusError {
		m.EmbeddingErrors.Add(ctx, 1, metric.WithAttributes(base...))
	}
}

// RecordStore records the latency of one vector store operation.
func (m *Metrics) RecordStore(ctx context.Context, op, status string, seconds float64) {
	m.StoreDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// status maps err to a status attribute value.
func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
