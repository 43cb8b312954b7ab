package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// setupTestTracer installs an in-memory exporter as the global provider.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	res, err := newResource(DefaultConfig())
	if err != nil {
		t.Fatalf("newResource failed: %v", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	SetTracerProvider(tp, tp.Shutdown)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		SetTracerProvider(noop.NewTracerProvider(), nil)
	})
	return exporter
}

func attr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceName != "loom" {
		t.Errorf("ServiceName = %q, want %q", config.ServiceName, "loom")
	}
	if config.Enabled {
		t.Error("Enabled should be false by default")
	}
	if config.SampleRate != 1.0 {
		t.Errorf("SampleRate = %v, want 1.0", config.SampleRate)
	}
}

func TestInitProviderDisabled(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("InitProvider failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}

	_, span := StartRunSpan(context.Background(), "run-1", 3)
	defer span.End()
	if span.IsRecording() {
		t.Error("disabled tracing should produce non-recording spans")
	}
}

func TestInitProviderEnabledWithoutEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 0.5

	shutdown, err := InitProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitProvider failed: %v", err)
	}
	defer func() {
		_ = shutdown(context.Background())
		SetTracerProvider(noop.NewTracerProvider(), nil)
	}()

	if _, ok := TracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("expected SDK provider, got %T", TracerProvider())
	}
	if err := ForceFlush(context.Background()); err != nil {
		t.Errorf("ForceFlush failed: %v", err)
	}
}

func TestSpanHierarchy(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, run := StartRunSpan(context.Background(), "run-1", 2)
	waveCtx, wave := StartWaveSpan(ctx, 1, 2)
	_, node := StartNodeSpan(waveCtx, "A")
	RecordSuccess(node, attribute.String(AttrStatus, "complete"))
	node.End()
	wave.End()
	run.End()

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	nodeSpan, waveSpan, runSpan := spans[0], spans[1], spans[2]

	if nodeSpan.Name != "node" || waveSpan.Name != "wave" || runSpan.Name != "run" {
		t.Errorf("unexpected span names %q %q %q", nodeSpan.Name, waveSpan.Name, runSpan.Name)
	}
	if nodeSpan.Parent.SpanID() != waveSpan.SpanContext.SpanID() {
		t.Error("node span should be a child of the wave span")
	}
	if waveSpan.Parent.SpanID() != runSpan.SpanContext.SpanID() {
		t.Error("wave span should be a child of the run span")
	}
	if v, ok := attr(nodeSpan, AttrNodeID); !ok || v.AsString() != "A" {
		t.Errorf("node id attribute = %v", v)
	}
	if nodeSpan.Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", nodeSpan.Status.Code)
	}
}

func TestRecordError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartNodeSpan(context.Background(), "B")
	RecordError(span, &errors.TimeoutError{NodeID: "B", Timeout: time.Second})
	span.End()

	_, plain := StartPlanSpan(context.Background(), "goal", 3)
	RecordError(plain, fmt.Errorf("plain failure"))
	RecordError(plain, nil)
	plain.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if v, ok := attr(spans[0], AttrErrorCode); !ok || v.AsString() != "EXEC-002" {
		t.Errorf("error code attribute = %v", v)
	}
	if len(spans[0].Events) != 1 {
		t.Errorf("expected one exception event, got %d", len(spans[0].Events))
	}
	if _, ok := attr(spans[1], AttrErrorCode); ok {
		t.Error("uncoded errors should not set an error code")
	}
}

func TestRecordDuration(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "run")
	RecordDuration(span, "wave", 1500*time.Millisecond)
	span.End()

	spans := exporter.GetSpans()
	if v, ok := attr(spans[0], "wave_ms"); !ok || v.AsInt64() != 1500 {
		t.Errorf("wave_ms = %v", v)
	}
}

type flakyExporter struct {
	failures int
	calls    int
}

func (f *flakyExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("collector unavailable")
	}
	return nil
}

func (f *flakyExporter) Shutdown(ctx context.Context) error { return nil }

func TestRetryExporter(t *testing.T) {
	flaky := &flakyExporter{failures: 2}
	e := &retryExporter{exporter: flaky}

	if err := e.ExportSpans(context.Background(), nil); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}

	down := &retryExporter{exporter: &flakyExporter{failures: 1000}}
	down.failures = maxFailures
	down.lastFailure = time.Now()
	if err := down.ExportSpans(context.Background(), nil); err == nil {
		t.Error("expected export to be suspended")
	}
}
