// Package telemetry provides OpenTelemetry tracing for the semantic cache.
// Embedding, tier scans, inserts and the prediction cycle each get a span,
// W3C Trace Context is propagated, and spans export to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/Fender1992/cachegpt-sub001"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "cachegpt",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes cache-specific span
// helpers. A nil *Provider hands out no-op spans.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Noop returns a Provider that records nothing.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(tracerName)}
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return Noop(), nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the cache tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return p.tracer
}

func (p *Provider) start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// StartRequest creates a root span for an incoming HTTP request.
func (p *Provider) StartRequest(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return p.start(ctx, "cachegpt.request",
		trace.WithAttributes(attribute.String("cachegpt.endpoint", endpoint)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartEmbedding creates a span for embedding generation.
func (p *Provider) StartEmbedding(ctx context.Context, textCount int) (context.Context, trace.Span) {
	return p.start(ctx, "cachegpt.embedding",
		trace.WithAttributes(attribute.Int("cachegpt.embedding.text_count", textCount)),
	)
}

// StartSearch creates a span covering a full tiered search.
func (p *Provider) StartSearch(ctx context.Context, model, provider string, threshold float64) (context.Context, trace.Span) {
	return p.start(ctx, "cachegpt.search",
		trace.WithAttributes(
			attribute.String("cachegpt.model", model),
			attribute.String("cachegpt.provider", provider),
			attribute.Float64("cachegpt.search.threshold", threshold),
		),
	)
}

// StartTierScan creates a span for scanning one tier's candidates.
func (p *Provider) StartTierScan(ctx context.Context, tier string, limit int) (context.Context, trace.Span) {
	return p.start(ctx, "cachegpt.tier_scan",
		trace.WithAttributes(
			attribute.String("cachegpt.tier", tier),
			attribute.Int("cachegpt.tier_scan.limit", limit),
		),
	)
}

// StartInsert creates a span for persisting a new entry.
func (p *Provider) StartInsert(ctx context.Context, model, provider string) (context.Context, trace.Span) {
	return p.start(ctx, "cachegpt.insert",
		trace.WithAttributes(
			attribute.String("cachegpt.model", model),
			attribute.String("cachegpt.provider", provider),
		),
	)
}

// StartAnalysis creates a span for a pattern analysis run.
func (p *Provider) StartAnalysis(ctx context.Context) (context.Context, trace.Span) {
	return p.start(ctx, "cachegpt.analysis")
}

// StartPrewarm creates a span for a pre-warm batch.
func (p *Provider) StartPrewarm(ctx context.Context, predictionCount int) (context.Context, trace.Span) {
	return p.start(ctx, "cachegpt.prewarm",
		trace.WithAttributes(attribute.Int("cachegpt.prewarm.prediction_count", predictionCount)),
	)
}

// RecordHit adds lookup outcome attributes to a span.
func RecordHit(span trace.Span, hit bool, similarity float64, tier string, latency time.Duration) {
	span.SetAttributes(
		attribute.Bool("cachegpt.result.hit", hit),
		attribute.Int64("cachegpt.result.latency_ms", latency.Milliseconds()),
	)
	if hit {
		span.SetAttributes(
			attribute.Float64("cachegpt.result.similarity", similarity),
			attribute.String("cachegpt.result.tier", tier),
		)
	}
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
