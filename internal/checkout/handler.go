// Package checkout exposes the order and checkout operations over HTTP.
package checkout

import (
	"net/http"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/logger"
	"fsw-food-be/internal/order"
	"fsw-food-be/internal/transport"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	svc order.Service
}

func NewHandler(svc order.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/checkout", h.StartCheckout)
	mux.HandleFunc("GET /payment/success", h.PaymentSuccess)
	mux.HandleFunc("GET /payment/cancel", h.PaymentCancel)
}

// CreateOrder places a PENDING order and opens its checkout session.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := transport.DecodeJSON(w, r, &req); err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	res, err := h.svc.CreateOrder(ctx, req.toCart())
	if err != nil {
		// The order exists; the client can retry checkout with its id.
		var checkoutErr *order.CheckoutError
		if errors.As(err, &checkoutErr) {
			transport.WriteErrorBody(ctx, w, checkoutErr.Err, transport.ErrorResponse{
				OrderID: checkoutErr.OrderID.String(),
			})
			return
		}
		transport.WriteError(ctx, w, err)
		return
	}

	transport.WriteJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:   res.OrderID.String(),
		URL:       res.RedirectURL,
		SessionID: res.SessionID,
	})
}

// StartCheckout opens a checkout session for an existing PENDING order.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "start checkout"
	ctx := r.Context()

	var req checkoutRequest
	if err := transport.DecodeJSON(w, r, &req); err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	orderID, err := parseOrderID(op, req.OrderID)
	if err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	res, err := h.svc.StartCheckout(ctx, orderID, req.displayItems())
	if err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	transport.WriteJSON(w, http.StatusOK, checkoutResponse{
		URL:       res.RedirectURL,
		SessionID: res.SessionID,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	const op = "get order"
	ctx := r.Context()

	orderID, err := parseOrderID(op, r.PathValue("id"))
	if err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	o, err := h.svc.GetOrder(ctx, orderID)
	if err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	transport.WriteJSON(w, http.StatusOK, toOrderResponse(o))
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orders, err := h.svc.ListOrders(ctx)
	if err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	resp := listOrdersResponse{Orders: make([]orderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

// PaymentSuccess is where the payment page sends the buyer back. It only
// reads the session; the webhook confirms the order.
func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	summary, err := h.svc.GetCheckoutSummary(ctx, sessionID)
	if err != nil {
		transport.WriteError(ctx, w, err)
		return
	}

	logger.FromCtx(ctx).Info("buyer returned from payment page",
		zap.String("session_id", summary.SessionID),
		zap.String("order_id", summary.OrderID),
		zap.String("payment_status", summary.PaymentStatus),
	)
	transport.WriteJSON(w, http.StatusOK, toSummaryResponse(summary))
}

// PaymentCancel acknowledges an abandoned payment page. The order stays
// PENDING until the session expires.
func (h *Handler) PaymentCancel(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, cancelResponse{Cancelled: true})
}

func parseOrderID(op, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, apperr.Validation(op, "orderId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.ValidationWrap(op, "invalid orderId", err)
	}
	return id, nil
}
