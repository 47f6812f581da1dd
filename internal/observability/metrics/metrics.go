package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the metering pipeline's instruments.
type Metrics struct {
	usageTracked     metric.Int64Counter
	usageQuantity    metric.Int64Counter
	alertsCreated    metric.Int64Counter
	quotaChecks      metric.Int64Counter
	quotaResets      metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "quotaflow"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
	}{
		{&m.usageTracked, "quotaflow_usage_tracked_total"},
		{&m.usageQuantity, "quotaflow_usage_quantity_total"},
		{&m.alertsCreated, "quotaflow_alerts_created_total"},
		{&m.quotaChecks, "quotaflow_quota_checks_total"},
		{&m.quotaResets, "quotaflow_quota_resets_total"},
		{&m.rateLimitAllowed, "quotaflow_rate_limit_allowed_total"},
		{&m.rateLimitDenied, "quotaflow_rate_limit_denied_total"},
	}
	for _, counter := range counters {
		instrument, err := meter.Int64Counter(counter.name)
		if err != nil {
			return nil, err
		}
		*counter.target = instrument
	}
	return m, nil
}

// NewNoop returns instruments bound to a no-op provider, for tests.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordUsageTracked(ctx context.Context, eventType string, quantity int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))...)
	m.usageTracked.Add(ctx, 1, attrs)
	m.usageQuantity.Add(ctx, quantity, attrs)
}

func (m *Metrics) RecordAlertCreated(ctx context.Context, alertType, quotaType string) {
	if m == nil {
		return
	}
	m.alertsCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("alert_type", strings.TrimSpace(alertType)),
		attribute.String("quota_type", strings.TrimSpace(quotaType)),
	)...))
}

func (m *Metrics) RecordQuotaCheck(ctx context.Context, quotaType string, allowed bool) {
	if m == nil {
		return
	}
	m.quotaChecks.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("quota_type", strings.TrimSpace(quotaType)),
		attribute.Bool("allowed", allowed),
	)...))
}

func (m *Metrics) RecordQuotaReset(ctx context.Context, source string, count int64) {
	if m == nil {
		return
	}
	m.quotaResets.Add(ctx, count, metric.WithAttributes(FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
	)...))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Subject ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
	"quota_type":  {},
	"alert_type":  {},
	"allowed":     {},
	"source":      {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
