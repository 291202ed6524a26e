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

// Metrics exposes reconciliation instruments.
type Metrics struct {
	webhookEvents    metric.Int64Counter
	webhookDuplicate metric.Int64Counter
	webhookFailures  metric.Int64Counter
	webhookDuration  metric.Float64Histogram
	inventoryFailed  metric.Int64Counter
	emailsQueued     metric.Int64Counter
	emailsDelivered  metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "reconciler"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("reconciler_webhook_events_total")
	if err != nil {
		return nil, err
	}
	webhookDuplicate, err := meter.Int64Counter("reconciler_webhook_duplicates_total")
	if err != nil {
		return nil, err
	}
	webhookFailures, err := meter.Int64Counter("reconciler_webhook_failures_total")
	if err != nil {
		return nil, err
	}
	webhookDuration, err := meter.Float64Histogram("reconciler_webhook_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	inventoryFailed, err := meter.Int64Counter("reconciler_inventory_item_failures_total")
	if err != nil {
		return nil, err
	}
	emailsQueued, err := meter.Int64Counter("reconciler_emails_queued_total")
	if err != nil {
		return nil, err
	}
	emailsDelivered, err := meter.Int64Counter("reconciler_emails_delivered_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:    webhookEvents,
		webhookDuplicate: webhookDuplicate,
		webhookFailures:  webhookFailures,
		webhookDuration:  webhookDuration,
		inventoryFailed:  inventoryFailed,
		emailsQueued:     emailsQueued,
		emailsDelivered:  emailsDelivered,
	}, nil
}

// RecordWebhookEvent counts a processed event by type and outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.webhookDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhookDuplicate(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.webhookDuplicate.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhookFailure(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.webhookFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInventoryItemFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.inventoryFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEmailQueued(ctx context.Context, emailType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("email_type", strings.TrimSpace(emailType)))
	m.emailsQueued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEmailDelivery counts a dispatch attempt; status is sent or failed.
func (m *Metrics) RecordEmailDelivery(ctx context.Context, emailType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("email_type", strings.TrimSpace(emailType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.emailsDelivered.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_type":  {},
	"outcome":     {},
	"reason":      {},
	"email_type":  {},
	"status":      {},
	"status_code": {},
	"route":       {},
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
