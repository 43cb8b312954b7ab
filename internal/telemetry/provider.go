package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	globalProvider trace.TracerProvider
	globalShutdown func(context.Context) error
	providerMu     sync.RWMutex
)

// retryExporter retries failed exports with exponential backoff. After
// maxFailures consecutive failed batches it drops spans until cooldown
// has passed, so an unreachable collector never stalls a run.
type retryExporter struct {
	exporter sdktrace.SpanExporter

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

const (
	exportAttempts  = 3
	exportBackoff   = 100 * time.Millisecond
	maxFailures     = 5
	exportCooldown  = 30 * time.Second
	exportTimeLimit = 10 * time.Second
)

func (e *retryExporter) open() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures >= maxFailures && time.Since(e.lastFailure) < exportCooldown
}

func (e *retryExporter) record(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.failures = 0
		return
	}
	e.failures++
	e.lastFailure = time.Now()
}

func (e *retryExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.open() {
		return fmt.Errorf("span export suspended after %d failures", maxFailures)
	}

	ctx, cancel := context.WithTimeout(ctx, exportTimeLimit)
	defer cancel()

	var err error
	backoff := exportBackoff
	for attempt := 0; attempt < exportAttempts; attempt++ {
		if err = e.exporter.ExportSpans(ctx, spans); err == nil {
			e.record(nil)
			return nil
		}
		if attempt == exportAttempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			e.record(ctx.Err())
			return ctx.Err()
		}
	}
	e.record(err)
	return fmt.Errorf("export failed after %d attempts: %w", exportAttempts, err)
}

func (e *retryExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

func newResource(cfg Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// InitProvider installs the global tracer provider and returns its shutdown
// function. A disabled config installs a noop provider.
func InitProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		SetTracerProvider(noop.NewTracerProvider(), nil)
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(
			&retryExporter{exporter: exporter},
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	SetTracerProvider(tp, tp.Shutdown)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// SetTracerProvider replaces the global provider. Tests use it to install
// an in-memory recorder.
func SetTracerProvider(tp trace.TracerProvider, shutdown func(context.Context) error) {
	providerMu.Lock()
	defer providerMu.Unlock()
	globalProvider = tp
	globalShutdown = shutdown
	otel.SetTracerProvider(tp)
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context) error {
	providerMu.RLock()
	shutdown := globalShutdown
	providerMu.RUnlock()

	if shutdown != nil {
		return shutdown(ctx)
	}
	return nil
}

// ForceFlush forces all pending spans to be exported
func ForceFlush(ctx context.Context) error {
	providerMu.RLock()
	provider := globalProvider
	providerMu.RUnlock()

	if tp, ok := provider.(*sdktrace.TracerProvider); ok {
		return tp.ForceFlush(ctx)
	}
	return nil
}

// TracerProvider returns the current global tracer provider
func TracerProvider() trace.TracerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()

	if globalProvider != nil {
		return globalProvider
	}
	return noop.NewTracerProvider()
}
