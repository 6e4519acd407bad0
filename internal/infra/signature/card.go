package signature

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
)

// CardVerifier checks Stripe-Signature headers against the raw request body.
type CardVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewCardVerifier(secret string, tolerance time.Duration) *CardVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &CardVerifier{secret: secret, tolerance: tolerance}
}

// Verify authenticates payload and returns the classified event.
// payload must be the body exactly as received.
func (v *CardVerifier) Verify(payload []byte, header string) (model.CardEvent, error) {
	if v.secret == "" {
		return model.CardEvent{}, fmt.Errorf("%w: no signing secret configured", domain.ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return model.CardEvent{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	out := model.CardEvent{
		EventID: ev.ID,
		RawType: string(ev.Type),
		Kind:    model.CardEventKind(string(ev.Type)),
	}
	if ev.Data != nil {
		if id, ok := ev.Data.Object["id"].(string); ok {
			out.ObjectID = id
		}
	}
	return out, nil
}

// SignCard produces a Stripe-Signature header for tests and local tooling.
func SignCard(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}
