// Package otel wires OpenTelemetry tracing and metrics for shadowbook. A
// disabled config yields a provider whose tracer and meter are no-ops, so
// callers never branch on whether telemetry is on.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// scopeName is the instrumentation scope for shadowbook spans and metrics.
const scopeName = "shadowbook"

// Version is the shadowbook version reported in telemetry.
const Version = "v0.1-dev"

// Config holds OTel configuration.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Provider hands out the process tracer and meter and owns their shutdown.
type Provider struct {
	tracer  trace.Tracer
	meter   metric.Meter
	closers []func(context.Context) error
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }
func (p *Provider) Meter() metric.Meter  { return p.meter }

// Shutdown flushes and stops every underlying provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, closer := range p.closers {
		errs = append(errs, closer(ctx))
	}
	return errors.Join(errs...)
}

// Init builds the telemetry provider for the process. The returned Provider
// must be Shutdown on exit.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			tracer: nooptrace.NewTracerProvider().Tracer(scopeName),
			meter:  noop.NewMeterProvider().Meter(scopeName),
		}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	return &Provider{
		tracer:  tp.Tracer(scopeName),
		meter:   mp.Meter(scopeName),
		closers: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "shadowbook"
	}
	return resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(name),
		semconv.ServiceVersion(Version),
	))
}

// newTracerProvider assembles the span pipeline for the configured exporter:
// otlp-http (default), stdout for local debugging, or none, which samples and
// records spans without exporting them.
func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}

	switch cfg.Exporter {
	case "otlp-http", "":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "none":
	default:
		return nil, fmt.Errorf("unknown exporter %q (supported: otlp-http, stdout, none)", cfg.Exporter)
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
