package payment

import "time"

// Gateway event types the service reacts to.
const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired               = "checkout.session.expired"
)

// Event is a decoded webhook. The concrete type is one of CheckoutCompleted,
// CheckoutExpired, CheckoutPaymentFailed or UnknownEvent.
type Event interface {
	Meta() EventMeta
	isEvent()
}

type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

// CheckoutCompleted is sent when the buyer finishes the payment page, and
// again when a delayed payment method settles. Paid is false while an
// asynchronous payment is still in flight.
type CheckoutCompleted struct {
	EventMeta
	Session Session
	Paid    bool
}

type CheckoutExpired struct {
	EventMeta
	Session Session
}

// CheckoutPaymentFailed is sent when a delayed payment method fails.
type CheckoutPaymentFailed struct {
	EventMeta
	Session Session
}

type UnknownEvent struct {
	EventMeta
}

func (CheckoutCompleted) isEvent()     {}
func (CheckoutExpired) isEvent()       {}
func (CheckoutPaymentFailed) isEvent() {}
func (UnknownEvent) isEvent()          {}

// SessionOf returns the checkout session carried by ev, if any.
func SessionOf(ev Event) (Session, bool) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return e.Session, true
	case CheckoutExpired:
		return e.Session, true
	case CheckoutPaymentFailed:
		return e.Session, true
	}
	return Session{}, false
}
