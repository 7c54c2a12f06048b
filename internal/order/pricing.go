package order

import (
	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/money"

	"github.com/shopspring/decimal"
)

// Totals are the monetary fields of an order. They are fixed at creation.
type Totals struct {
	Subtotal       decimal.Decimal
	DeliveryFee    decimal.Decimal
	TotalDiscounts decimal.Decimal
	Total          decimal.Decimal
}

func validateCart(cart Cart) error {
	const op = "validate cart"

	if len(cart.Lines) == 0 {
		return apperr.ValidationWrap(op, ErrEmptyCart.Error(), ErrEmptyCart)
	}
	if cart.RestaurantID == "" {
		return apperr.Validation(op, "restaurant is required")
	}
	for _, line := range cart.Lines {
		if line.ProductID == "" {
			return apperr.Validation(op, "product id is required")
		}
		if line.RestaurantID != "" && line.RestaurantID != cart.RestaurantID {
			return apperr.ValidationWrap(op, ErrMixedRestaurants.Error(), ErrMixedRestaurants)
		}
		if line.Quantity <= 0 {
			return apperr.ValidationWrap(op, ErrInvalidQuantity.Error(), ErrInvalidQuantity)
		}
		// Prices are stored with two decimals; a sub-cent price rounds to zero.
		if !money.Normalize(line.UnitPrice).IsPositive() {
			return apperr.ValidationWrap(op, ErrInvalidPrice.Error(), ErrInvalidPrice)
		}
	}
	if cart.DeliveryFee.IsNegative() {
		return apperr.Validation(op, "delivery fee must not be negative")
	}
	if cart.TotalDiscounts.IsNegative() {
		return apperr.Validation(op, "discounts must not be negative")
	}
	return nil
}

// CalculateTotals computes subtotal and total from the cart snapshot:
// total = subtotal + deliveryFee - totalDiscounts, in two-place decimals.
func CalculateTotals(cart Cart) (Totals, error) {
	subtotal := decimal.Zero
	for _, line := range cart.Lines {
		subtotal = subtotal.Add(money.Normalize(line.UnitPrice).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	t := Totals{
		Subtotal:       subtotal,
		DeliveryFee:    money.Normalize(cart.DeliveryFee),
		TotalDiscounts: money.Normalize(cart.TotalDiscounts),
	}
	t.Total = t.Subtotal.Add(t.DeliveryFee).Sub(t.TotalDiscounts)

	if t.Total.IsNegative() {
		return Totals{}, apperr.ValidationWrap("calculate totals", ErrNegativeTotal.Error(), ErrNegativeTotal)
	}
	return t, nil
}

// matchesSubtotal reports whether display items add up to the order subtotal.
func matchesSubtotal(items []DisplayItem, subtotal decimal.Decimal) bool {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum.Equal(subtotal)
}
