// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pubgraph/backend/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Config struct {
	Exporter    string
	ServiceName string
	Component   string
	SampleRatio float64
}

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init sets the global tracer provider and propagator. With the "none"
// exporter the global no-op provider stays in place. The OTLP exporter reads
// OTEL_EXPORTER_OTLP_ENDPOINT and friends from the environment.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	exporter, err := newExporter(ctx, cfg.Exporter)
	if err != nil {
		return noopShutdown, err
	}
	if exporter == nil {
		return noopShutdown, nil
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pubgraph"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		attribute.String("service.component", cfg.Component),
	))
	if err != nil {
		logger.Warn("[Telemetry] Resource init failed (continuing)", "err", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("[Telemetry] Tracing initialized", "service", serviceName, "exporter", cfg.Exporter)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, kind string) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		return otlptracehttp.New(ctx)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", kind)
	}
}

func clampRatio(r float64) float64 {
	switch {
	case r <= 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
