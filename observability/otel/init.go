package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"kylan/config"
)

const (
	serviceName    = "kyland"
	batchTimeout   = 2 * time.Second
	metricInterval = 15 * time.Second

	envHeaders = "OTEL_EXPORTER_OTLP_HEADERS"

	// AttrCertModel tags every span and metric with the certificate model
	// the daemon enforces.
	AttrCertModel = attribute.Key("kylan.printer.model")
)

var errNoEndpoint = errors.New("telemetry: endpoint required")

// Exporter is the resolved OTLP destination for the daemon.
type Exporter struct {
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	SampleRatio float64
	Environment string
	Model       string
}

// Resolve turns the [Telemetry] table into an exporter. The endpoint may be
// written as a URL; an http:// scheme forces a plaintext connection. Headers
// come from OTEL_EXPORTER_OTLP_HEADERS since the file never carries secrets.
func Resolve(tel config.Telemetry, environment, model string, lookup func(string) string) Exporter {
	exp := Exporter{
		Endpoint:    strings.TrimSpace(tel.Endpoint),
		Insecure:    tel.Insecure,
		SampleRatio: tel.SampleRatio,
		Environment: environment,
		Model:       model,
	}
	switch {
	case strings.HasPrefix(exp.Endpoint, "http://"):
		exp.Endpoint = strings.TrimPrefix(exp.Endpoint, "http://")
		exp.Insecure = true
	case strings.HasPrefix(exp.Endpoint, "https://"):
		exp.Endpoint = strings.TrimPrefix(exp.Endpoint, "https://")
	}
	exp.Endpoint = strings.TrimSuffix(exp.Endpoint, "/")
	if lookup != nil {
		if raw := lookup(envHeaders); raw != "" {
			exp.Headers = ParseHeaders(raw)
		}
	}
	return exp
}

func (e Exporter) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(serviceName)}
	if e.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(e.Environment))
	}
	if e.Model != "" {
		attrs = append(attrs, AttrCertModel.String(e.Model))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Init installs the global trace and meter providers for kyland and returns
// their shutdown. Processor spans and printer metrics flow through both.
func Init(ctx context.Context, exp Exporter) (func(context.Context) error, error) {
	if exp.Endpoint == "" {
		return nil, errNoEndpoint
	}
	res, err := exp.resource()
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(exp.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(exp.Endpoint)}
	if exp.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	if len(exp.Headers) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(exp.Headers))
		metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(exp.Headers))
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}

	tracers := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(exp.SampleRatio)),
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(batchTimeout)),
	)
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricInterval))),
	)
	otel.SetTracerProvider(tracers)
	otel.SetMeterProvider(meters)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(meters.Shutdown(ctx), tracers.Shutdown(ctx))
	}, nil
}

// ParseHeaders reads the key=value,key=value form of OTEL_EXPORTER_OTLP_HEADERS.
// Malformed pairs are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}
