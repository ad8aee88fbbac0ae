package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// otelHarness installs in-memory metric and trace backends for the duration
// of one test and returns handles for inspecting what was recorded.
func otelHarness(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prevTP) })

	return m, reader, exp
}

// serve runs one GET request through the middleware and the given handler.
func serve(t *testing.T, m *Metrics, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware(m)(h)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestMiddleware_EchoesCorrelationID(t *testing.T) {
	m, _, _ := otelHarness(t)

	var seen string
	rec := serve(t, m, func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}, "/v1/session")

	if len(seen) != 32 {
		t.Fatalf("correlation ID in handler context = %q, want 32 hex chars", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
	}
}

func TestMiddleware_OneServerSpanPerRequest(t *testing.T) {
	m, _, exp := otelHarness(t)

	serve(t, m, func(w http.ResponseWriter, r *http.Request) {}, "/v1/reports")

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /v1/reports" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /v1/reports")
	}
}

func TestMiddleware_RecordsDurationWithStatus(t *testing.T) {
	m, reader, exp := otelHarness(t)

	serve(t, m, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no session", http.StatusConflict)
	}, "/v1/session")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "interview.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("duration histogram has no data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/v1/session", "status": "409"}
	for _, kv := range dp.Attributes.ToSlice() {
		if want[string(kv.Key)] == kv.Value.Emit() {
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("duration sample missing attributes: %v", want)
	}

	// The span carries the handler's status too.
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 409 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	m, _, _ := otelHarness(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"

	var seen string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/v1/session", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != upstream {
		t.Errorf("correlation ID = %q, want the upstream trace ID %q", seen, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}

func TestMiddleware_WriterSupportsResponseController(t *testing.T) {
	m, _, _ := otelHarness(t)

	// Protocol upgrades under the middleware reach the underlying writer via
	// http.ResponseController, which needs Unwrap on the wrapper.
	var flushErr error
	serve(t, m, func(w http.ResponseWriter, r *http.Request) {
		flushErr = http.NewResponseController(w).Flush()
	}, "/media/ingest")

	if flushErr != nil {
		t.Fatalf("Flush through wrapped writer: %v", flushErr)
	}
}
