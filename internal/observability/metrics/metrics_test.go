package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "invoice.paid"),
		attribute.String("event_id", "evt_123"),
		attribute.String("customer_id", "cus_1"),
		attribute.String("outcome", "applied"),
	)
	require.Len(t, attrs, 2)

	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("event_type"))
	assert.Contains(t, keys, attribute.Key("outcome"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordWebhookEvent(ctx, "invoice.paid", "applied", time.Millisecond)
		m.RecordWebhookDuplicate(ctx, "invoice.paid")
		m.RecordWebhookFailure(ctx, "invoice.paid")
		m.RecordInventoryItemFailure(ctx, "variant_not_found")
		m.RecordEmailQueued(ctx, "order_confirmation")
		m.RecordEmailDelivery(ctx, "order_confirmation", "sent")
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "reconciler-test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	require.NotNil(t, m)

	m.RecordWebhookEvent(context.Background(), "checkout.session.completed", "applied", 10*time.Millisecond)
}
