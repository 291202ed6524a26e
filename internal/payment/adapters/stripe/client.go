package stripe

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"

	"github.com/smallbiznis/reconciler/internal/config"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

// Client performs the read-only platform lookups the handlers need when an
// event payload alone is not enough.
type Client struct {
	api *client.API
	log *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	c := &Client{log: log.Named("stripe.client")}
	if key := strings.TrimSpace(cfg.Stripe.SecretKey); key != "" {
		c.api = client.New(key, nil)
	} else {
		c.log.Warn("stripe secret key not configured, platform lookups disabled")
	}
	return c
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if c.api == nil {
		return nil, paymentdomain.ErrPlatformDisabled
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price")

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	return subscriptionFromAPI(sub), nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if c.api == nil {
		return nil, paymentdomain.ErrPlatformDisabled
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", id, err)
	}

	out := &PaymentIntent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Amount:   pi.Amount,
		Currency: strings.ToLower(string(pi.Currency)),
		Metadata: nonNilMetadata(pi.Metadata),
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	return out, nil
}

func (c *Client) ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	if c.api == nil {
		return nil, paymentdomain.ErrPlatformDisabled
	}
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var items []LineItem
	iter := c.api.CheckoutSessions.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		item := LineItem{
			ID:          li.ID,
			Description: li.Description,
			Quantity:    li.Quantity,
			AmountTotal: li.AmountTotal,
		}
		if li.Price != nil {
			item.PriceID = li.Price.ID
			if li.Price.Product != nil {
				item.ProductID = li.Price.Product.ID
			}
		}
		items = append(items, item)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list line items for %s: %w", sessionID, err)
	}
	return items, nil
}

func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	if c.api == nil {
		return nil, paymentdomain.ErrPlatformDisabled
	}
	params := &stripe.ProductParams{}
	params.Context = ctx

	p, err := c.api.Products.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve product %s: %w", id, err)
	}
	return &Product{ID: p.ID, Name: p.Name, Metadata: nonNilMetadata(p.Metadata)}, nil
}

func subscriptionFromAPI(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixPtr(sub.CanceledAt),
		Metadata:          nonNilMetadata(sub.Metadata),
		PriceMetadata:     map[string]string{},
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.PriceMetadata = nonNilMetadata(item.Price.Metadata)
			if item.Price.Product != nil {
				out.ProductID = item.Price.Product.ID
			}
		}
	}
	return out
}
