package checkout

import (
	"time"

	"fsw-food-be/internal/money"
	"fsw-food-be/internal/order"

	"github.com/shopspring/decimal"
)

type cartItemRequest struct {
	ProductID    string          `json:"productId"`
	RestaurantID string          `json:"restaurantId,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
}

type createOrderRequest struct {
	RestaurantID        string            `json:"restaurantId"`
	DeliveryFee         decimal.Decimal   `json:"deliveryFee"`
	TotalDiscounts      decimal.Decimal   `json:"totalDiscounts"`
	DeliveryTimeMinutes int               `json:"deliveryTimeMinutes"`
	Items               []cartItemRequest `json:"items"`
}

type createOrderResponse struct {
	OrderID   string `json:"orderId"`
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type checkoutItemRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type checkoutRequest struct {
	OrderID string                `json:"orderId"`
	Items   []checkoutItemRequest `json:"items"`
}

type checkoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type orderLineResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Subtotal  string `json:"subtotal"`
}

type orderResponse struct {
	ID                  string              `json:"id"`
	RestaurantID        string              `json:"restaurantId"`
	Status              string              `json:"status"`
	SubtotalPrice       string              `json:"subtotalPrice"`
	DeliveryFee         string              `json:"deliveryFee"`
	TotalDiscounts      string              `json:"totalDiscounts"`
	TotalPrice          string              `json:"totalPrice"`
	DeliveryTimeMinutes int                 `json:"deliveryTimeMinutes"`
	CreatedAt           string              `json:"createdAt"`
	Lines               []orderLineResponse `json:"lines"`
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
}

type summaryResponse struct {
	OrderID       string `json:"orderId"`
	SessionID     string `json:"sessionId"`
	AmountTotal   string `json:"amountTotal"`
	Currency      string `json:"currency"`
	PaymentStatus string `json:"paymentStatus"`
	SessionStatus string `json:"sessionStatus"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (r createOrderRequest) toCart() order.Cart {
	cart := order.Cart{
		RestaurantID:        r.RestaurantID,
		DeliveryFee:         r.DeliveryFee,
		TotalDiscounts:      r.TotalDiscounts,
		DeliveryTimeMinutes: r.DeliveryTimeMinutes,
		Lines:               make([]order.CartLine, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		cart.Lines = append(cart.Lines, order.CartLine{
			ProductID:    it.ProductID,
			RestaurantID: it.RestaurantID,
			Name:         it.Name,
			Description:  it.Description,
			ImageURL:     it.ImageURL,
			Quantity:     it.Quantity,
			UnitPrice:    it.Price,
		})
	}
	return cart
}

func (r checkoutRequest) displayItems() []order.DisplayItem {
	items := make([]order.DisplayItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, order.DisplayItem{
			Name:        it.Name,
			Description: it.Description,
			ImageURL:    it.ImageURL,
			Price:       it.Price,
			Quantity:    it.Quantity,
		})
	}
	return items
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:                  o.ID.String(),
		RestaurantID:        o.RestaurantID,
		Status:              string(o.Status),
		SubtotalPrice:       money.Format(o.SubtotalPrice),
		DeliveryFee:         money.Format(o.DeliveryFee),
		TotalDiscounts:      money.Format(o.TotalDiscounts),
		TotalPrice:          money.Format(o.TotalPrice),
		DeliveryTimeMinutes: o.DeliveryTimeMinutes,
		CreatedAt:           o.CreatedAt.UTC().Format(time.RFC3339),
		Lines:               make([]orderLineResponse, 0, len(o.Lines)),
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: money.Format(l.UnitPriceSnapshot),
			Subtotal:  money.Format(l.Subtotal()),
		})
	}
	return resp
}

func toSummaryResponse(s *order.CheckoutSummary) summaryResponse {
	return summaryResponse{
		OrderID:       s.OrderID,
		SessionID:     s.SessionID,
		AmountTotal:   money.Format(s.AmountTotal),
		Currency:      s.Currency,
		PaymentStatus: s.PaymentStatus,
		SessionStatus: s.SessionStatus,
	}
}
