// Package payment wraps the hosted-checkout payment gateway and the webhook
// idempotency ledger.
package payment

import (
	"context"
)

type Gateway interface {
	// CreateCheckoutSession opens a hosted payment page. Calls with the same
	// IdempotencyKey return the same session.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
	// ParseWebhook verifies the signature header against the raw body and
	// decodes the event. It never has side effects.
	ParseWebhook(payload []byte, signatureHeader string) (Event, error)
}
