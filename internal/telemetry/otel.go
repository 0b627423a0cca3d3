// Package telemetry installs the OpenTelemetry tracer provider used by the
// session coordinator. Tracing is off unless an OTLP endpoint is configured.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// EnvEndpoint is the standard OTLP endpoint variable, e.g. http://localhost:4318
const EnvEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Config controls trace export
type Config struct {
	// Endpoint is the OTLP/HTTP collector URL. Empty disables tracing.
	Endpoint       string
	ServiceName    string
	ServiceVersion string
}

// ConfigFromEnv reads the endpoint from OTEL_EXPORTER_OTLP_ENDPOINT
func ConfigFromEnv(version string) Config {
	return Config{
		Endpoint:       os.Getenv(EnvEndpoint),
		ServiceName:    "kamui",
		ServiceVersion: version,
	}
}

// Init sets the global tracer provider. Without an endpoint it returns a
// no-op shutdown and leaves the global provider alone.
// The returned shutdown flushes pending spans.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Endpoint == "" {
		logger.DebugContext(ctx, "tracing disabled", "env", EnvEndpoint)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTEL resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.DebugContext(ctx, "tracing enabled", "endpoint", cfg.Endpoint)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		return nil
	}, nil
}
