package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

// expandableID accepts either a bare id or an expanded object with an id field.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(strings.TrimSpace(obj.ID))
	return nil
}

func unixPtr(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}

type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CheckoutSession is the subset of a checkout session the reconciler reads.
type CheckoutSession struct {
	ID                string
	Mode              string
	CustomerID        string
	CustomerEmail     string
	ClientReferenceID string
	PaymentIntentID   string
	SubscriptionID    string
	PaymentStatus     string
	Currency          string
	AmountTotal       int64
	AmountSubtotal    int64
	Metadata          map[string]string
	// ShippingDetails is kept verbatim for the order row.
	ShippingDetails json.RawMessage
}

// UserID returns the storefront user the session was started for.
func (s *CheckoutSession) UserID() string {
	if id := strings.TrimSpace(s.Metadata["user_id"]); id != "" {
		return id
	}
	return strings.TrimSpace(s.ClientReferenceID)
}

func (s *CheckoutSession) IsTierUpgrade() bool {
	return strings.TrimSpace(s.Metadata["purchase_type"]) == "tier_upgrade"
}

type checkoutSessionJSON struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          expandableID      `json:"customer"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *CustomerDetails  `json:"customer_details"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentIntent     expandableID      `json:"payment_intent"`
	Subscription      expandableID      `json:"subscription"`
	PaymentStatus     string            `json:"payment_status"`
	Currency          string            `json:"currency"`
	AmountTotal       int64             `json:"amount_total"`
	AmountSubtotal    int64             `json:"amount_subtotal"`
	Metadata          map[string]string `json:"metadata"`
	ShippingDetails   json.RawMessage   `json:"shipping_details"`
	Collected         *struct {
		ShippingDetails json.RawMessage `json:"shipping_details"`
	} `json:"collected_information"`
}

func DecodeCheckoutSession(raw []byte) (*CheckoutSession, error) {
	var in checkoutSessionJSON
	if err := decodeObject(raw, &in, "checkout.session"); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(in.CustomerEmail)
	if in.CustomerDetails != nil && strings.TrimSpace(in.CustomerDetails.Email) != "" {
		email = strings.TrimSpace(in.CustomerDetails.Email)
	}
	shipping := in.ShippingDetails
	if isNullJSON(shipping) && in.Collected != nil {
		shipping = in.Collected.ShippingDetails
	}
	if isNullJSON(shipping) {
		shipping = nil
	}

	return &CheckoutSession{
		ID:                strings.TrimSpace(in.ID),
		Mode:              strings.TrimSpace(in.Mode),
		CustomerID:        string(in.Customer),
		CustomerEmail:     email,
		ClientReferenceID: strings.TrimSpace(in.ClientReferenceID),
		PaymentIntentID:   string(in.PaymentIntent),
		SubscriptionID:    string(in.Subscription),
		PaymentStatus:     strings.TrimSpace(in.PaymentStatus),
		Currency:          strings.ToLower(strings.TrimSpace(in.Currency)),
		AmountTotal:       in.AmountTotal,
		AmountSubtotal:    in.AmountSubtotal,
		Metadata:          nonNilMetadata(in.Metadata),
		ShippingDetails:   shipping,
	}, nil
}

// Subscription is the subset of a subscription the reconciler reads. Price and
// product come from the first subscription item.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	PriceID            string
	ProductID          string
	PriceMetadata      map[string]string
	Metadata           map[string]string
}

type subscriptionJSON struct {
	ID                 string            `json:"id"`
	Customer           expandableID      `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID       string            `json:"id"`
				Product  expandableID      `json:"product"`
				Metadata map[string]string `json:"metadata"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func DecodeSubscription(raw []byte) (*Subscription, error) {
	var in subscriptionJSON
	if err := decodeObject(raw, &in, "subscription"); err != nil {
		return nil, err
	}

	out := &Subscription{
		ID:                strings.TrimSpace(in.ID),
		CustomerID:        string(in.Customer),
		Status:            strings.TrimSpace(in.Status),
		CancelAtPeriodEnd: in.CancelAtPeriodEnd,
		CanceledAt:        unixPtr(in.CanceledAt),
		Metadata:          nonNilMetadata(in.Metadata),
		PriceMetadata:     map[string]string{},
	}

	// newer API versions report the billing period per item
	periodStart, periodEnd := in.CurrentPeriodStart, in.CurrentPeriodEnd
	if len(in.Items.Data) > 0 {
		item := in.Items.Data[0]
		out.PriceID = strings.TrimSpace(item.Price.ID)
		out.ProductID = string(item.Price.Product)
		out.PriceMetadata = nonNilMetadata(item.Price.Metadata)
		if periodStart == 0 {
			periodStart = item.CurrentPeriodStart
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	out.CurrentPeriodStart = unixPtr(periodStart)
	out.CurrentPeriodEnd = unixPtr(periodEnd)

	if out.Status == "" {
		return nil, fmt.Errorf("%w: subscription %s has no status", paymentdomain.ErrInvalidEvent, out.ID)
	}
	return out, nil
}

type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
}

type invoiceJSON struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func DecodeInvoice(raw []byte) (*Invoice, error) {
	var in invoiceJSON
	if err := decodeObject(raw, &in, "invoice"); err != nil {
		return nil, err
	}

	subscriptionID := string(in.Subscription)
	if subscriptionID == "" && in.Parent != nil && in.Parent.SubscriptionDetails != nil {
		subscriptionID = string(in.Parent.SubscriptionDetails.Subscription)
	}
	return &Invoice{
		ID:             strings.TrimSpace(in.ID),
		CustomerID:     string(in.Customer),
		SubscriptionID: subscriptionID,
	}, nil
}

type PaymentIntent struct {
	ID         string
	CustomerID string
	Status     string
	Amount     int64
	Currency   string
	Metadata   map[string]string
}

type paymentIntentJSON struct {
	ID       string            `json:"id"`
	Customer expandableID      `json:"customer"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

func DecodePaymentIntent(raw []byte) (*PaymentIntent, error) {
	var in paymentIntentJSON
	if err := decodeObject(raw, &in, "payment_intent"); err != nil {
		return nil, err
	}
	return &PaymentIntent{
		ID:         strings.TrimSpace(in.ID),
		CustomerID: string(in.Customer),
		Status:     strings.TrimSpace(in.Status),
		Amount:     in.Amount,
		Currency:   strings.ToLower(strings.TrimSpace(in.Currency)),
		Metadata:   nonNilMetadata(in.Metadata),
	}, nil
}

type LineItem struct {
	ID          string
	PriceID     string
	ProductID   string
	Description string
	Quantity    int64
	AmountTotal int64
}

type Product struct {
	ID       string
	Name     string
	Metadata map[string]string
}

func decodeObject(raw []byte, out any, kind string) error {
	if isNullJSON(raw) {
		return fmt.Errorf("%w: empty %s object", paymentdomain.ErrInvalidEvent, kind)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", paymentdomain.ErrInvalidPayload, kind, err)
	}
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	if strings.TrimSpace(probe.ID) == "" {
		return fmt.Errorf("%w: %s without id", paymentdomain.ErrInvalidEvent, kind)
	}
	return nil
}

func isNullJSON(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
