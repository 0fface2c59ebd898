// Package observability sets up OpenTelemetry trace export.
//
// Spans are exported over OTLP/HTTP to a local collector (or agent). The
// collector handles buffering, retry and forwarding to whatever backend the
// plant runs; the application never talks to a tracing vendor directly.
//
// With an empty endpoint the global tracer provider stays the no-op default,
// so instrumented code pays nothing when tracing is off.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/zavodtech/yaroslav/internal/config"
)

// Setup installs the global tracer provider from the otel config section.
//
// Returns a shutdown function that flushes pending spans; it is a no-op when
// export is disabled. Exporter construction failures disable tracing with a
// warning instead of failing startup.
func Setup(ctx context.Context, cfg config.OtelConfig, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	if cfg.Endpoint == "" {
		logger.Debug("trace export disabled, no otlp endpoint configured")
		return noop, nil
	}

	// Collector sits on the plant network, plain HTTP.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create otlp exporter, tracing disabled", "error", err)
		return noop, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "yaroslav"
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "dev"
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		attribute.String("deployment.environment", environment),
	))
	if err != nil {
		logger.Warn("failed to build trace resource, tracing disabled", "error", err)
		return noop, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("trace export enabled",
		"endpoint", cfg.Endpoint,
		"service", serviceName,
		"environment", environment,
	)

	return tp.Shutdown, nil
}
