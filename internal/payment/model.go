package payment

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusExpired  SessionStatus = "expired"
)

const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Payment intent states that mean the buyer's payment did not go through.
const (
	PaymentIntentRequiresPaymentMethod = "requires_payment_method"
	PaymentIntentCanceled              = "canceled"
)

// Metadata keys attached to every checkout session.
const (
	MetadataOrderID = "orderId"
	MetadataUserID  = "userId"
)

// LineItem is one row of the hosted payment page. UnitAmount is in minor units.
type LineItem struct {
	Name        string
	Description string
	ImageURL    string
	UnitAmount  int64
	Quantity    int64
}

type CheckoutRequest struct {
	OrderID        string
	UserID         string
	IdempotencyKey string
	Currency       string
	Lines          []LineItem
	SuccessURL     string
	CancelURL      string
	// ExpiresAt is optional; zero leaves the gateway default.
	ExpiresAt time.Time
}

func (r CheckoutRequest) AmountTotal() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.UnitAmount * l.Quantity
	}
	return total
}

// Session is the gateway's view of a checkout session.
type Session struct {
	ID                string
	URL               string
	OrderID           string
	UserID            string
	ClientReferenceID string
	AmountTotal       int64
	Currency          string
	Status            SessionStatus
	PaymentStatus     string
	// PaymentIntentStatus is only filled by RetrieveSession.
	PaymentIntentStatus string
}

// ResolveOrderID returns the order id from metadata, falling back to the
// client reference id.
func (s Session) ResolveOrderID() string {
	if s.OrderID != "" {
		return s.OrderID
	}
	return s.ClientReferenceID
}

func (s Session) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// PaymentFailed reports a completed session whose payment was declined for
// good. A complete, unpaid session with a processing intent is still pending.
func (s Session) PaymentFailed() bool {
	if s.Status != SessionStatusComplete || s.Paid() {
		return false
	}
	return s.PaymentIntentStatus == PaymentIntentRequiresPaymentMethod ||
		s.PaymentIntentStatus == PaymentIntentCanceled
}
