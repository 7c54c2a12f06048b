package order

import (
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionExists    = errors.New("order already has an open checkout session")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrInvalidPrice     = errors.New("price must be greater than zero")
	ErrMixedRestaurants = errors.New("cart lines must belong to one restaurant")
	ErrNegativeTotal    = errors.New("discounts exceed order value")
	ErrItemsMismatch    = errors.New("checkout items do not match the order")
	ErrCheckoutClosed   = errors.New("checkout window for this order has closed")
)

// CheckoutError reports a checkout that failed after the order was stored.
// The order stays PENDING and the checkout can be retried with OrderID.
type CheckoutError struct {
	OrderID uuid.UUID
	Err     error
}

func (e *CheckoutError) Error() string {
	return "checkout for order " + e.OrderID.String() + ": " + e.Err.Error()
}

func (e *CheckoutError) Unwrap() error { return e.Err }
