package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/stt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// transcribeLatencyBounds spans a short command on a fast machine up to a
// long dictation on a Raspberry Pi, in milliseconds.
var transcribeLatencyBounds = []float64{25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000}

func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := telemetryResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("telemetry error", slog.String("error", err.Error()))
	}))

	traceProvider, err := initTracer(ctx, cfg, res, logger)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(traceProvider)

	meterProvider, metricHandler := initMetrics(cfg, res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx))
	}
	return shutdown, metricHandler, nil
}

func telemetryResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("loqa.engine.mode", cfg.Engine.Mode),
			attribute.String("loqa.node.id", cfg.Node.ID),
		),
	)
}

// initTracer exports spans over OTLP when an endpoint is configured and to
// stdout otherwise.
func initTracer(ctx context.Context, cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint)
	if endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	if endpoint != "" {
		logger.Info("tracing initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
	} else {
		logger.Info("tracing initialized", slog.String("exporter", "stdout"))
	}
	return tp, nil
}

// meterOptions configures every meter provider the daemon builds. The engine
// latency histogram gets buckets sized for speech rather than the SDK's
// defaults.
func meterOptions(res *resource.Resource) []sdkmetric.Option {
	latency := sdkmetric.NewView(
		sdkmetric.Instrument{Name: stt.TranscribeDurationMetric},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: transcribeLatencyBounds}},
	)
	return []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithView(latency),
	}
}

// initMetrics serves metrics through the prometheus exporter. If the exporter
// cannot be built, instruments still work but /metrics answers 404.
func initMetrics(cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	opts := meterOptions(res)
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(opts...), http.NotFoundHandler()
	}
	meter := sdkmetric.NewMeterProvider(append(opts, sdkmetric.WithReader(promExporter))...)
	logger.Info("metrics initialized", slog.String("exporter", "prometheus"), slog.String("bind", cfg.Telemetry.PrometheusBind))
	return meter, promhttp.Handler()
}
