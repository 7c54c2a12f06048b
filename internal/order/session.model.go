package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutSessionStatus string

const (
	CheckoutSessionStatusOpen     CheckoutSessionStatus = "OPEN"
	CheckoutSessionStatusComplete CheckoutSessionStatus = "COMPLETE"
	CheckoutSessionStatusExpired  CheckoutSessionStatus = "EXPIRED"
)

// CheckoutSession correlates an order with one payment attempt at the gateway.
type CheckoutSession struct {
	ID                uuid.UUID
	OrderID           uuid.UUID
	ExternalSessionID string
	IdempotencyKey    string
	AmountAuthorized  decimal.Decimal
	Currency          string
	URL               string
	Status            CheckoutSessionStatus
	CreatedAt         time.Time
}

// ProcessedEvent is a row of the webhook idempotency ledger.
type ProcessedEvent struct {
	ExternalEventID string
	EventType       string
	OrderID         *uuid.UUID
	ReceivedAt      time.Time
}

// TransitionResult reports what a conditional status update did.
type TransitionResult struct {
	From      OrderStatus
	To        OrderStatus
	Applied   bool
	Duplicate bool
}

// CheckoutIdempotencyKey is the gateway idempotency key for an order's
// checkout session. It depends only on the order id so every retry reuses it.
func CheckoutIdempotencyKey(orderID uuid.UUID) string {
	return "order-" + orderID.String() + "-checkout"
}
