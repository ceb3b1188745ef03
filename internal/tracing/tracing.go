// Package tracing builds the OpenTelemetry tracer provider for the gateway.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"api-gateway-go/internal/config"
)

// OTLP exporter settings.
const (
	exportTimeout      = 10 * time.Second
	reconnectionPeriod = 10 * time.Second
	retryInitial       = 1 * time.Second
	retryMax           = 30 * time.Second
	retryElapsed       = 1 * time.Minute
)

// Provider is the gateway's TracerProvider. When tracing is disabled it is a
// no-op and Shutdown does nothing.
type Provider struct {
	trace.TracerProvider
	sdk *sdktrace.TracerProvider
}

// New creates a Provider from cfg. With tracing enabled but no OTLP endpoint,
// spans are sampled and recorded but not exported.
func New(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{TracerProvider: noop.NewTracerProvider()}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	all := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(Sampler(cfg.Rate()))),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(exportTimeout),
			otlptracegrpc.WithReconnectionPeriod(reconnectionPeriod),
			otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
				Enabled:         true,
				InitialInterval: retryInitial,
				MaxInterval:     retryMax,
				MaxElapsedTime:  retryElapsed,
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		all = append(all, sdktrace.WithBatcher(exporter))
	}

	sdk := sdktrace.NewTracerProvider(append(all, opts...)...)

	logger.Info("tracing enabled",
		"service_name", cfg.ServiceName,
		"otlp_endpoint", cfg.OTLPEndpoint,
		"sampling_rate", cfg.Rate(),
	)

	return &Provider{TracerProvider: sdk, sdk: sdk}, nil
}

// Sampler maps a sampling rate to a sampler.
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Propagator returns the W3C trace context and baggage propagator used to
// continue traces started by callers.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
