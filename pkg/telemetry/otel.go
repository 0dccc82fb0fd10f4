// Package telemetry wires up the OpenTelemetry tracer and meter providers,
// ported from the manifold example's internal/observability/otel.go into a
// shared setup usable by all three binaries.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarsync/memoryplane/pkg/config"
)

// Provider bundles the tracer and meter used across a process, plus the
// counters named in the domain stack (rate-limit rejections, concurrency
// denials, deadline overruns).
type Provider struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	RateLimitRejections metric.Int64Counter
	ConcurrencyDenials  metric.Int64Counter
	DeadlineOverruns    metric.Int64Counter

	shutdownFuncs []func(context.Context) error
}

// Setup configures the global tracer/meter providers per cfg and returns a
// Provider. Call Shutdown at process exit to flush exporters.
func Setup(ctx context.Context, cfg *config.TelemetryConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	p := &Provider{}

	if cfg.TracingEnabled && cfg.OTLPEndpoint != "" {
		texp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("failed to build trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(texp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	}
	p.Tracer = otel.Tracer(cfg.ServiceName)

	if cfg.MetricsEnabled && cfg.OTLPEndpoint != "" {
		mexp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("failed to build metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mexp)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

		if err := host.Start(host.WithMeterProvider(mp)); err != nil {
			return nil, fmt.Errorf("failed to start host instrumentation: %w", err)
		}
	}
	p.Meter = otel.Meter(cfg.ServiceName)

	var err2 error
	p.RateLimitRejections, err2 = p.Meter.Int64Counter("gateway.rate_limit_rejections")
	if err2 != nil {
		return nil, err2
	}
	p.ConcurrencyDenials, err2 = p.Meter.Int64Counter("gateway.concurrency_denials")
	if err2 != nil {
		return nil, err2
	}
	p.DeadlineOverruns, err2 = p.Meter.Int64Counter("gateway.deadline_overruns")
	if err2 != nil {
		return nil, err2
	}

	return p, nil
}

// Shutdown flushes and stops every exporter registered during Setup.
func (p *Provider) Shutdown(ctx context.Context) error {
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}
