package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

func TestDecodeCheckoutSession(t *testing.T) {
	raw := []byte(`{
		"id": "cs_1",
		"mode": "payment",
		"customer": {"id": "cus_1", "object": "customer"},
		"customer_email": null,
		"customer_details": {"email": "buyer@example.com"},
		"client_reference_id": "user_ref",
		"payment_intent": "pi_1",
		"payment_status": "paid",
		"currency": "USD",
		"amount_total": 4200,
		"amount_subtotal": 4000,
		"metadata": {"user_id": "user_meta"},
		"collected_information": {"shipping_details": {"name": "Buyer", "address": {"city": "Austin"}}}
	}`)

	session, err := DecodeCheckoutSession(raw)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "cus_1", session.CustomerID)
	assert.Equal(t, "buyer@example.com", session.CustomerEmail)
	assert.Equal(t, "pi_1", session.PaymentIntentID)
	assert.Equal(t, "usd", session.Currency)
	assert.Equal(t, int64(4200), session.AmountTotal)
	assert.Equal(t, "user_meta", session.UserID())
	assert.False(t, session.IsTierUpgrade())
	assert.JSONEq(t, `{"name": "Buyer", "address": {"city": "Austin"}}`, string(session.ShippingDetails))
}

func TestCheckoutSessionUserIDFallsBackToClientReference(t *testing.T) {
	session, err := DecodeCheckoutSession([]byte(`{"id":"cs_2","mode":"subscription","client_reference_id":"user_ref"}`))
	require.NoError(t, err)
	assert.Equal(t, "user_ref", session.UserID())
	assert.Empty(t, session.CustomerID)
	assert.NotNil(t, session.Metadata)
	assert.Nil(t, session.ShippingDetails)
}

func TestDecodeSubscriptionPeriodFromItems(t *testing.T) {
	raw := []byte(`{
		"id": "sub_1",
		"customer": "cus_1",
		"status": "active",
		"cancel_at_period_end": true,
		"metadata": {"tier": "club"},
		"items": {"data": [{
			"current_period_start": 1760000000,
			"current_period_end": 1762592000,
			"price": {"id": "price_1", "product": "prod_1", "metadata": {"size": "six_pack"}}
		}]}
	}`)

	sub, err := DecodeSubscription(raw)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "price_1", sub.PriceID)
	assert.Equal(t, "prod_1", sub.ProductID)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodStart)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), *sub.CurrentPeriodStart)
	assert.Equal(t, time.Unix(1762592000, 0).UTC(), *sub.CurrentPeriodEnd)
	assert.Nil(t, sub.CanceledAt)
	assert.Equal(t, "six_pack", sub.PriceMetadata["size"])
}

func TestDecodeSubscriptionTopLevelPeriodWins(t *testing.T) {
	raw := []byte(`{"id":"sub_1","customer":"cus_1","status":"past_due","current_period_start":100,"current_period_end":200,
		"items":{"data":[{"current_period_start":1,"current_period_end":2,"price":{"id":"price_1"}}]}}`)

	sub, err := DecodeSubscription(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sub.CurrentPeriodStart.Unix())
	assert.Equal(t, int64(200), sub.CurrentPeriodEnd.Unix())
}

func TestDecodeSubscriptionRequiresStatus(t *testing.T) {
	_, err := DecodeSubscription([]byte(`{"id":"sub_1"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestDecodeInvoiceSubscriptionFromParent(t *testing.T) {
	inv, err := DecodeInvoice([]byte(`{"id":"in_1","customer":"cus_1","parent":{"subscription_details":{"subscription":"sub_9"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "sub_9", inv.SubscriptionID)

	inv, err = DecodeInvoice([]byte(`{"id":"in_2","customer":"cus_1","subscription":null}`))
	require.NoError(t, err)
	assert.Empty(t, inv.SubscriptionID)
}

func TestDecodeObjectErrors(t *testing.T) {
	_, err := DecodePaymentIntent(nil)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = DecodePaymentIntent([]byte(`{"id": 12}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = DecodePaymentIntent([]byte(`{"amount": 12}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}
