package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const protocolHTTP = "http/protobuf"

// instanceID identifies this coordinator process in exported telemetry.
var instanceID = uuid.NewString()

func newResource(cfg *Config) *resource.Resource {
	// Standalone resource; resource.Default() uses a different semconv schema URL.
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(instanceID),
	)
}

// collector describes how exporters reach the OTLP collector.
type collector struct {
	endpoint   string
	http       bool
	insecure   bool
	skipVerify bool
}

func collectorFor(cfg *Config) collector {
	c := collector{
		endpoint:   cfg.Endpoint,
		http:       cfg.Protocol == protocolHTTP,
		insecure:   cfg.Insecure,
		skipVerify: cfg.TLSSkipVerify,
	}
	if c.http {
		// HTTP exporters want host:port, not a URL
		c.endpoint = stripScheme(c.endpoint)
	}
	return c
}

// customTLS reports whether the default TLS settings must be replaced.
func (c collector) customTLS() (*tls.Config, bool) {
	if c.insecure || !c.skipVerify {
		return nil, false
	}
	return &tls.Config{InsecureSkipVerify: true}, true //nolint:gosec // operator opted in for internal CAs
}

func (c collector) spanExporter(ctx context.Context) (trace.SpanExporter, error) {
	tlsCfg, custom := c.customTLS()
	if c.http {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.endpoint)}
		switch {
		case c.insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		case custom:
			opts = append(opts, otlptracehttp.WithTLSClientConfig(tlsCfg))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.endpoint)}
	switch {
	case c.insecure:
		opts = append(opts, otlptracegrpc.WithInsecure())
	case custom:
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// cumulative is required by Prometheus-compatible backends.
func cumulative(metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (c collector) metricExporter(ctx context.Context) (metric.Exporter, error) {
	tlsCfg, custom := c.customTLS()
	if c.http {
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(c.endpoint),
			otlpmetrichttp.WithTemporalitySelector(cumulative),
		}
		switch {
		case c.insecure:
			opts = append(opts, otlpmetrichttp.WithInsecure())
		case custom:
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(tlsCfg))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(c.endpoint),
		otlpmetricgrpc.WithTemporalitySelector(cumulative),
	}
	switch {
	case c.insecure:
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	case custom:
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// sampler honours the parent's decision and samples root spans at rate.
func sampler(rate float64) trace.Sampler {
	var root trace.Sampler
	switch {
	case rate >= 1:
		root = trace.AlwaysSample()
	case rate <= 0:
		root = trace.NeverSample()
	default:
		root = trace.TraceIDRatioBased(rate)
	}
	return trace.ParentBased(root)
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*trace.TracerProvider, error) {
	exp, err := collectorFor(cfg).spanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.SampleRate)),
	), nil
}

// newMeterProvider returns nil when metric export is disabled.
func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*metric.MeterProvider, error) {
	if !cfg.Metrics {
		return nil, nil
	}
	exp, err := collectorFor(cfg).metricExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(exp, metric.WithInterval(cfg.MetricsInterval))
	return metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader)), nil
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
