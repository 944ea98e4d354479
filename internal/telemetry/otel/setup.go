// Package otel exports traces and audit log records over OTLP gRPC. Metrics are served
// by Prometheus and are not exported here.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"edu-platform/auth/internal/audit"
)

// Config describes the collector and the service reporting to it.
type Config struct {
	// Endpoint is host:port or a URL; only the host part is dialled. Empty disables export.
	Endpoint string
	// Insecure forces plaintext even for https endpoints.
	Insecure    bool
	ServiceName string
	Version     string
	Environment string
}

// Providers holds the trace and log pipelines of one process.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider

	closers []func(context.Context) error
}

// NewProviders builds the providers for cfg. Without an endpoint both providers are
// local only: spans are still created for the request log, nothing leaves the process.
func NewProviders(ctx context.Context, cfg Config) (*Providers, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		p := &Providers{
			TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
			LoggerProvider: sdklog.NewLoggerProvider(sdklog.WithResource(res)),
		}
		p.closers = []func(context.Context) error{p.TracerProvider.Shutdown, p.LoggerProvider.Shutdown}
		return p, nil
	}

	target, insecure, err := grpcTarget(cfg.Endpoint, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("otlp log exporter: %w", err)
	}

	p := &Providers{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res)),
		LoggerProvider: sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res)),
	}
	p.closers = []func(context.Context) error{p.TracerProvider.Shutdown, p.LoggerProvider.Shutdown}
	return p, nil
}

// AuditEmitter returns the emitter that turns audit entries into OTel log records.
func (p *Providers) AuditEmitter() audit.Emitter {
	return NewAuditEmitter(p.LoggerProvider)
}

// SetGlobal installs the tracer provider and the W3C trace-context propagator used by
// the HTTP middleware.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
}

// Shutdown flushes exporters, logs last. Safe to call more than once.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func serviceResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "edu-platform-auth"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(cfg.Environment))
	}
	// Schemaless so the merge never conflicts with the SDK default's schema URL.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// grpcTarget reduces endpoint to host:port. Plaintext unless the scheme is https and
// forceInsecure is false.
func grpcTarget(endpoint string, forceInsecure bool) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, forceInsecure || u.Scheme != "https", nil
}
