package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var tracingEnabled atomic.Bool

// InitTracing installs an OTLP/gRPC tracer provider when
// OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise spans stay no-op.
// OTEL_TRACES_SAMPLER_RATIO (0..1, default 1) sets the root sampling ratio and
// OTEL_EXPORTER_OTLP_INSECURE=0 enables TLS. The returned func flushes and
// stops the provider.
func InitTracing(serviceName, serviceVersion string) (func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set", slog.String("component", "telemetry"))
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "0" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	ratio := samplerRatio(os.Getenv("OTEL_TRACES_SAMPLER_RATIO"))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	tracingEnabled.Store(true)
	slog.Info("tracing initialized",
		slog.String("service", serviceName),
		slog.String("endpoint", endpoint),
		slog.Float64("sample_ratio", ratio),
		slog.String("component", "telemetry"),
	)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("tracer provider shutdown failed", slog.Any("err", err), slog.String("component", "telemetry"))
		}
		tracingEnabled.Store(false)
	}, nil
}

// samplerRatio parses a ratio in [0,1]; anything else samples everything.
func samplerRatio(v string) float64 {
	r, err := strconv.ParseFloat(v, 64)
	if err != nil || r < 0 || r > 1 {
		return 1
	}
	return r
}

// IsTracingEnabled reports whether an exporting provider is installed.
func IsTracingEnabled() bool { return tracingEnabled.Load() }

// StartSpan starts a span on the named tracer, tagging it with the request's
// correlation id when there is one.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanSuccess(span trace.Span) { span.SetStatus(codes.Ok, "") }

// ErrorStatus returns the span status pair for a failure description.
func ErrorStatus(msg string) (codes.Code, string) { return codes.Error, msg }

func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
}

func HTTPMethodAttr(method string) attribute.KeyValue { return attribute.String("http.method", method) }

func HTTPRouteAttr(route string) attribute.KeyValue { return attribute.String("http.route", route) }

func HTTPURLAttr(url string) attribute.KeyValue { return attribute.String("http.url", url) }

// TranslationAttrs describes a translation call on a span.
func TranslationAttrs(source, target string, textLen int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("translation.source", source),
		attribute.String("translation.target", target),
		attribute.Int("translation.text_length", textLen),
	}
}
