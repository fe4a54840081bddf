package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

func TestInit_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	if p.Tracer() == nil {
		t.Fatal("tracer should not be nil even when disabled")
	}

	ctx, span := p.StartRequest(context.Background(), "/v1/chat/completions")
	if ctx == nil {
		t.Fatal("context should not be nil")
	}
	span.End()
}

func TestInit_ExporterNone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "none"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if p.tp != nil {
		t.Fatal("exporter none should not build an SDK provider")
	}
}

func TestInit_ExporterStdout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"
	cfg.SampleRate = 0.5

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	if p.tp == nil {
		t.Fatal("TracerProvider should not be nil for stdout exporter")
	}
}

func TestInit_InvalidExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "jaeger"

	if _, err := Init(context.Background(), cfg); err == nil {
		t.Fatal("expected error for invalid exporter")
	}
}

func TestNilProvider(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on nil provider: %v", err)
	}
	_, span := p.StartSearch(context.Background(), "gpt-4o", "openai", 0.85)
	RecordHit(span, false, 0, "", time.Millisecond)
	span.End()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if cfg.Exporter != "otlp" {
		t.Errorf("expected default exporter otlp, got %s", cfg.Exporter)
	}
	if cfg.ServiceName != "cachegpt" {
		t.Errorf("expected default service name cachegpt, got %s", cfg.ServiceName)
	}
}

func TestSpanHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() (context.Context, trace.Span)
	}{
		{"StartRequest", func() (context.Context, trace.Span) { return p.StartRequest(ctx, "/v1/chat/completions") }},
		{"StartEmbedding", func() (context.Context, trace.Span) { return p.StartEmbedding(ctx, 3) }},
		{"StartSearch", func() (context.Context, trace.Span) { return p.StartSearch(ctx, "gpt-4o", "openai", 0.85) }},
		{"StartTierScan", func() (context.Context, trace.Span) { return p.StartTierScan(ctx, "hot", 10) }},
		{"StartInsert", func() (context.Context, trace.Span) { return p.StartInsert(ctx, "gpt-4o", "openai") }},
		{"StartAnalysis", func() (context.Context, trace.Span) { return p.StartAnalysis(ctx) }},
		{"StartPrewarm", func() (context.Context, trace.Span) { return p.StartPrewarm(ctx, 4) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, span := tt.fn()
			if c == nil {
				t.Error("context should not be nil")
			}
			if span == nil {
				t.Fatal("span should not be nil")
			}
			span.End()
		})
	}
}

func TestRecordHitAndError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "stdout"

	p, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() { _ = p.Shutdown(context.Background()) }()

	_, span := p.StartSearch(context.Background(), "gpt-4o", "openai", 0.85)
	RecordHit(span, true, 0.97, "hot", 12*time.Millisecond)
	RecordError(span, fmt.Errorf("store unavailable"))
	span.End()
}
