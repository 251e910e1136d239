package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapLogger(zap.New(core)).With(String("render_id", "42"))
	log.Warn("object skipped",
		Int("page", 2),
		Int64("object", 7),
		Float64("ratio", 0.75),
		Bool("agent", true),
		Error("error", errors.New("boom")),
	)
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0].ContextMap()
	if got["render_id"] != "42" || got["page"] != int64(2) || got["object"] != int64(7) {
		t.Fatalf("unexpected context: %v", got)
	}
	if got["ratio"] != 0.75 || got["agent"] != true || got["error"] != "boom" {
		t.Fatalf("unexpected context: %v", got)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level %v", entries[0].Level)
	}
}

func TestNewZapLoggerNil(t *testing.T) {
	if _, ok := NewZapLogger(nil).(NopLogger); !ok {
		t.Fatalf("nil zap logger should give NopLogger")
	}
}

func TestOTelTracerAdapter(t *testing.T) {
	tracer := NewOTelTracer(noop.NewTracerProvider().Tracer("flyerkit"))
	ctx, span := tracer.StartSpan(context.Background(), "render")
	if ctx == nil {
		t.Fatalf("nil context")
	}
	span.SetTag("pages", 3)
	span.SetTag("template", "t.pdf")
	span.SetTag("size", struct{ W, H int }{1, 2})
	span.SetError(errors.New("boom"))
	span.Finish()
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	m.ObjectRendered("text", OutcomeDrawn)
	m.ObjectRendered("text", OutcomeDrawn)
	m.ObjectRendered("image", OutcomePlaceholder)
	m.ImageFetched("remote", "ok")
	m.RenderFinished(0.2, nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				counts[mf.GetName()] += c.GetValue()
			}
			if h := metric.GetHistogram(); h != nil {
				counts[mf.GetName()] += float64(h.GetSampleCount())
			}
		}
	}
	if counts["flyerkit_objects_total"] != 3 {
		t.Fatalf("objects_total = %v", counts["flyerkit_objects_total"])
	}
	if counts["flyerkit_image_fetch_total"] != 1 || counts["flyerkit_render_duration_seconds"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	if _, err := NewPrometheusMetrics(reg); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
}
