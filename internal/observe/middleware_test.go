package observe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	embedmock "github.com/MrWong99/embedkit/pkg/provider/embeddings/mock"
	"github.com/MrWong99/embedkit/pkg/vectorstore"
	storemock "github.com/MrWong99/embedkit/pkg/vectorstore/mock"
)

const remoteTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// testSetup wires metrics to a manual reader and spans to an in-memory
// exporter.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTracerProvider(t)
}

// serve runs one request through Middleware and returns the recorder.
func serve(t *testing.T, m *Metrics, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Middleware(m)(h).ServeHTTP(rec, req)
	return rec
}

func spanStatus(t *testing.T, exp *tracetest.InMemoryExporter, name string) int64 {
	t.Helper()
	for _, s := range exp.GetSpans() {
		if s.Name != name {
			continue
		}
		for _, a := range s.Attributes {
			if string(a.Key) == "http.response.status_code" {
				return a.Value.AsInt64()
			}
		}
		t.Fatalf("span %q has no status code", name)
	}
	t.Fatalf("span %q not recorded", name)
	return 0
}

func TestMiddleware_StatusRecording(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int64
	}{
		{
			name: "first WriteHeader wins",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: http.StatusCreated,
		},
		{
			name: "implicit 200 via Write",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"object":"list"}`)
			},
			want: http.StatusOK,
		},
		{
			name: "WriteHeader after Write is ignored",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "partial")
				w.WriteHeader(http.StatusBadGateway)
			},
			want: http.StatusOK,
		},
		{
			name:    "no write at all",
			handler: func(http.ResponseWriter, *http.Request) {},
			want:    http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, exp := testSetup(t)
			serve(t, m, tt.handler, httptest.NewRequest("POST", "/v1/embeddings", nil))
			if got := spanStatus(t, exp, "HTTP POST /v1/embeddings"); got != tt.want {
				t.Errorf("recorded status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMiddleware_LogLevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusBadRequest, "level=INFO"},
		{http.StatusBadGateway, "level=WARN"},
		{http.StatusServiceUnavailable, "level=WARN"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			m, _, _ := testSetup(t)
			buf := captureLogs(t)

			serve(t, m, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}, httptest.NewRequest("GET", "/readyz", nil))

			var line string
			for l := range strings.SplitSeq(buf.String(), "\n") {
				if strings.Contains(l, `msg="request completed"`) {
					line = l
				}
			}
			if !strings.Contains(line, tt.level) {
				t.Errorf("log line %q, want %s", line, tt.level)
			}
			if !strings.Contains(line, "path=/readyz") {
				t.Errorf("log line %q missing path", line)
			}
		})
	}
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	m, _, _ := testSetup(t)

	var seen string
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-"+remoteTraceID+"-00f067aa0ba902b7-01")
	rec := serve(t, m, func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}, req)

	if seen != remoteTraceID {
		t.Errorf("handler cid = %q, want %q", seen, remoteTraceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != remoteTraceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, remoteTraceID)
	}
	if got := rec.Header().Get("traceparent"); !strings.Contains(got, remoteTraceID) {
		t.Errorf("traceparent = %q, want it to carry %s", got, remoteTraceID)
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := testSetup(t)
	serve(t, m, func(http.ResponseWriter, *http.Request) {}, httptest.NewRequest("GET", "/v1/collections/docs/count", nil))

	met := findMetric(collect(t, reader), "embedkit.http.request.duration")
	if met == nil {
		t.Fatal("embedkit.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("histogram = %+v, want one sample", met.Data)
	}
	if v, ok := hist.DataPoints[0].Attributes.Value("path"); !ok || v.AsString() != "/v1/collections/docs/count" {
		t.Errorf("path attribute = %v", v)
	}
}

func TestMiddleware_CorrelationReachesProviderAndStore(t *testing.T) {
	m, _, exp := testSetup(t)
	buf := captureLogs(t)

	provider := InstrumentProvider("together", &embedmock.Provider{DimensionsValue: 2}, m)
	failing := InstrumentProvider("openai", &embedmock.Provider{Err: errors.New("quota exhausted")}, m)
	store := InstrumentStore(storemock.New(2), m)

	req := httptest.NewRequest("POST", "/v1/collections/docs/documents", nil)
	req.Header.Set("traceparent", "00-"+remoteTraceID+"-00f067aa0ba902b7-01")
	serve(t, m, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vecs, err := provider.Generate(ctx, []string{"lore"})
		if err != nil {
			t.Errorf("Generate: %v", err)
			return
		}
		if err := store.Upsert(ctx, []vectorstore.Document{{ID: "a", Collection: "docs", Content: "lore", Embedding: vecs[0]}}); err != nil {
			t.Errorf("Upsert: %v", err)
		}
		_, _ = failing.Embed(ctx, "lore")
	}, req)

	spans := exp.GetSpans()
	var httpSpanID string
	for _, s := range spans {
		if s.Name == "HTTP POST /v1/collections/docs/documents" {
			httpSpanID = s.SpanContext.SpanID().String()
		}
	}
	if httpSpanID == "" {
		t.Fatal("HTTP span not recorded")
	}
	for _, name := range []string{"embeddings.Generate", "vectorstore.upsert", "embeddings.Embed"} {
		found := false
		for _, s := range spans {
			if s.Name != name {
				continue
			}
			found = true
			if got := s.SpanContext.TraceID().String(); got != remoteTraceID {
				t.Errorf("%s trace = %s, want %s", name, got, remoteTraceID)
			}
			if got := s.Parent.SpanID().String(); got != httpSpanID {
				t.Errorf("%s parent = %s, want HTTP span %s", name, got, httpSpanID)
			}
		}
		if !found {
			t.Errorf("span %s not recorded", name)
		}
	}

	var failLine string
	for l := range strings.SplitSeq(buf.String(), "\n") {
		if strings.Contains(l, `msg="embedding call failed"`) {
			failLine = l
		}
	}
	if !strings.Contains(failLine, "trace_id="+remoteTraceID) || !strings.Contains(failLine, "provider=openai") {
		t.Errorf("failure log %q, want trace_id and provider", failLine)
	}
}
