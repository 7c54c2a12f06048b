package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	ID                  uuid.UUID
	UserID              string
	RestaurantID        string
	Status              OrderStatus
	SubtotalPrice       decimal.Decimal
	DeliveryFee         decimal.Decimal
	TotalDiscounts      decimal.Decimal
	TotalPrice          decimal.Decimal
	DeliveryTimeMinutes int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Lines               []OrderLine
}

// OrderLine is a product snapshot taken when the order was placed.
type OrderLine struct {
	ProductID         string
	Name              string
	Description       string
	ImageURL          string
	Quantity          int
	UnitPriceSnapshot decimal.Decimal
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartLine is one line of the buyer's cart as handed over by the storefront.
type CartLine struct {
	ProductID string
	// RestaurantID is optional; when set it must match the cart's restaurant.
	RestaurantID string
	Name         string
	Description  string
	ImageURL     string
	Quantity     int
	UnitPrice    decimal.Decimal
}

// Cart is the snapshot an order is created from. Prices are the restaurant's
// current prices, resolved by the catalog before checkout.
type Cart struct {
	RestaurantID        string
	DeliveryFee         decimal.Decimal
	TotalDiscounts      decimal.Decimal
	DeliveryTimeMinutes int
	Lines               []CartLine
}

// DisplayItem describes a line on the gateway-hosted payment page.
type DisplayItem struct {
	Name        string
	Description string
	ImageURL    string
	Price       decimal.Decimal
	Quantity    int
}

// CheckoutResult is what the buyer needs to continue on the payment page.
type CheckoutResult struct {
	OrderID     uuid.UUID
	SessionID   string
	RedirectURL string
}

// CheckoutSummary is the read-only view shown after the buyer returns from
// the payment page. It reflects the gateway, not the stored order.
type CheckoutSummary struct {
	OrderID       string
	SessionID     string
	AmountTotal   decimal.Decimal
	Currency      string
	PaymentStatus string
	SessionStatus string
}
