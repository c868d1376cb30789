package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ServiceName = "txtconv"
	MeterName   = "txtconv"
)

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

// MetricsProviders holds the meter provider and its Prometheus endpoint
type MetricsProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultMetricsConfig returns a default metrics configuration
func DefaultMetricsConfig(version string) *MetricsConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &MetricsConfig{
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Environment:    env,
		Enabled:        true,
	}
}

// InitializeMetrics sets up the OpenTelemetry meter provider backed by a
// Prometheus exporter. The returned PrometheusHTTP handler serves /metrics.
func InitializeMetrics(cfg *MetricsConfig, logger *slog.Logger) (*MetricsProviders, error) {
	ctx := context.Background()

	providers := &MetricsProviders{Logger: logger}
	if cfg == nil || !cfg.Enabled {
		return providers, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	providers.PrometheusHTTP = promhttp.Handler()

	otel.SetMeterProvider(mp)

	logger.InfoContext(ctx, "Metrics initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment))

	return providers, nil
}

// Shutdown flushes and stops the meter provider
func (p *MetricsProviders) Shutdown(ctx context.Context) error {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Shutdown(ctx)
}

// HTTPMetrics holds request-level instruments for the HTTP middleware
type HTTPMetrics struct {
	RequestsTotal   metric.Int64Counter
	RequestDuration metric.Float64Histogram
	ActiveRequests  metric.Int64UpDownCounter
}

// ConversionMetrics holds instruments for the conversion service
type ConversionMetrics struct {
	ConversionsTotal   metric.Int64Counter
	ConversionErrors   metric.Int64Counter
	ConversionDuration metric.Float64Histogram
	BytesConverted     metric.Int64Counter
}

// NewHTTPMetrics creates the HTTP request instruments
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	requestsTotal, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		RequestsTotal:   requestsTotal,
		RequestDuration: requestDuration,
		ActiveRequests:  activeRequests,
	}, nil
}

// NewConversionMetrics creates the conversion instruments
func NewConversionMetrics(meter metric.Meter) (*ConversionMetrics, error) {
	conversionsTotal, err := meter.Int64Counter(
		"conversions_total",
		metric.WithDescription("Total number of conversions"),
	)
	if err != nil {
		return nil, err
	}

	conversionErrors, err := meter.Int64Counter(
		"conversion_errors_total",
		metric.WithDescription("Total number of failed conversions"),
	)
	if err != nil {
		return nil, err
	}

	conversionDuration, err := meter.Float64Histogram(
		"conversion_duration_seconds",
		metric.WithDescription("Conversion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	bytesConverted, err := meter.Int64Counter(
		"conversion_bytes_total",
		metric.WithDescription("Total bytes of text converted"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &ConversionMetrics{
		ConversionsTotal:   conversionsTotal,
		ConversionErrors:   conversionErrors,
		ConversionDuration: conversionDuration,
		BytesConverted:     bytesConverted,
	}, nil
}
