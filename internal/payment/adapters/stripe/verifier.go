package stripe

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/smallbiznis/reconciler/internal/clock"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// Verifier checks webhook signatures against an ordered list of signing
// secrets (live, test, legacy). The first secret that verifies wins.
type Verifier struct {
	secrets   []string
	tolerance time.Duration
	clock     clock.Clock
}

func NewVerifier(secrets []string, clk clock.Clock) *Verifier {
	cleaned := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Verifier{
		secrets:   cleaned,
		tolerance: webhook.DefaultTolerance,
		clock:     clk,
	}
}

func (v *Verifier) Verify(payload []byte, signature string) (*paymentdomain.InboundEvent, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, paymentdomain.ErrMissingSignature
	}

	verified := false
	for _, secret := range v.secrets {
		err := webhook.ValidatePayloadWithTolerance(payload, signature, secret, v.tolerance)
		if err == nil {
			verified = true
			break
		}
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) {
			// malformed header, no other secret can match either
			return nil, paymentdomain.ErrInvalidSignature
		}
	}
	if !verified {
		return nil, paymentdomain.ErrInvalidSignature
	}
	return v.Parse(payload)
}

func (v *Verifier) Parse(payload []byte) (*paymentdomain.InboundEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	return &paymentdomain.InboundEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Livemode:   event.Livemode,
		CreatedAt:  time.Unix(event.Created, 0).UTC(),
		ReceivedAt: v.clock.Now(),
		Payload:    raw,
		Object:     event.Data.Raw,
	}, nil
}

var _ paymentdomain.Verifier = (*Verifier)(nil)
