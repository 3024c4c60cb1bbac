package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig controls tracing initialization.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	SampleRate     float64
}

// DefaultOTelConfig returns the stock tracing configuration.
func DefaultOTelConfig(version string) *OTelConfig {
	return &OTelConfig{
		ServiceName:    "kuropanel",
		ServiceVersion: version,
		Enabled:        true,
		SampleRate:     1.0,
	}
}

// OTelProviders owns the tracer provider for shutdown.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
}

// InitializeOTel sets up the global tracer provider with a stdout exporter.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if !cfg.Enabled {
		return &OTelProviders{}, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized",
		slog.String("service", cfg.ServiceName),
		slog.Float64("sample_rate", cfg.SampleRate))
	return &OTelProviders{TracerProvider: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p.TracerProvider == nil {
		return nil
	}
	return p.TracerProvider.Shutdown(ctx)
}

// TraceIDFromContext returns the active span's trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
