// Package paymenttest provides an in-memory payment gateway and signed
// webhook payloads for tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/config"
	"fsw-food-be/internal/payment"

	"github.com/stripe/stripe-go/v76/webhook"
)

// Gateway is a payment.Gateway that keeps sessions in memory. Sessions are
// keyed by idempotency key like the real gateway. Webhook parsing uses the
// real signature verification with Secret.
type Gateway struct {
	Secret string

	mu       sync.Mutex
	sessions map[string]*payment.Session
	byKey    map[string]string
	keyReqs  map[string]payment.CheckoutRequest
	failures []error
	requests []payment.CheckoutRequest
	parser   payment.Gateway
}

func NewGateway(secret string) *Gateway {
	return &Gateway{
		Secret:   secret,
		sessions: make(map[string]*payment.Session),
		byKey:    make(map[string]string),
		keyReqs:  make(map[string]payment.CheckoutRequest),
		parser:   payment.NewStripeGateway(config.StripeConfig{WebhookSecret: secret}, nil),
	}
}

// FailNext makes the next CreateCheckoutSession calls return errs in order.
func (g *Gateway) FailNext(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = append(g.failures, errs...)
}

// Requests returns every CreateCheckoutSession request received so far.
func (g *Gateway) Requests() []payment.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payment.CheckoutRequest(nil), g.requests...)
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Timeout("create checkout session", err)
	}

	if id, ok := g.byKey[req.IdempotencyKey]; ok {
		// The gateway only replays a key for the identical request.
		if !sameRequest(g.keyReqs[req.IdempotencyKey], req) {
			return nil, apperr.Validation("create checkout session",
				"idempotency key reused with different parameters")
		}
		s := *g.sessions[id]
		return &s, nil
	}

	id := fmt.Sprintf("cs_test_%d", len(g.sessions)+1)
	s := &payment.Session{
		ID:                id,
		URL:               "https://checkout.stripe.test/c/pay/" + id,
		OrderID:           req.OrderID,
		UserID:            req.UserID,
		ClientReferenceID: req.OrderID,
		AmountTotal:       req.AmountTotal(),
		Currency:          req.Currency,
		Status:            payment.SessionStatusOpen,
		PaymentStatus:     payment.PaymentStatusUnpaid,
	}
	g.sessions[id] = s
	g.byKey[req.IdempotencyKey] = id
	g.keyReqs[req.IdempotencyKey] = req

	out := *s
	return &out, nil
}

func sameRequest(a, b payment.CheckoutRequest) bool {
	if a.ExpiresAt.Unix() != b.ExpiresAt.Unix() || a.ExpiresAt.IsZero() != b.ExpiresAt.IsZero() {
		return false
	}
	a.ExpiresAt, b.ExpiresAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(a, b)
}

func (g *Gateway) RetrieveSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, apperr.NotFound("retrieve checkout session", "checkout session not found")
	}
	out := *s
	return &out, nil
}

func (g *Gateway) ParseWebhook(payload []byte, signatureHeader string) (payment.Event, error) {
	return g.parser.ParseWebhook(payload, signatureHeader)
}

// SetSessionState changes what RetrieveSession reports for a session.
func (g *Gateway) SetSessionState(sessionID string, status payment.SessionStatus, paymentStatus string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[sessionID]; ok {
		s.Status = status
		s.PaymentStatus = paymentStatus
	}
}

// SetPaymentIntentStatus changes the payment intent status RetrieveSession
// reports for a session.
func (g *Gateway) SetPaymentIntentStatus(sessionID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[sessionID]; ok {
		s.PaymentIntentStatus = status
	}
}

// Session returns a copy of a stored session.
func (g *Gateway) Session(sessionID string) (payment.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return payment.Session{}, false
	}
	return *s, true
}

// SignedEvent renders a checkout session webhook and its signature header.
func SignedEvent(secret, eventID, eventType string, s payment.Session) (payload []byte, header string) {
	metadata := map[string]string{}
	if s.OrderID != "" {
		metadata[payment.MetadataOrderID] = s.OrderID
	}
	if s.UserID != "" {
		metadata[payment.MetadataUserID] = s.UserID
	}

	event := map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": "2023-10-16",
		"data": map[string]any{
			"object": map[string]any{
				"id":                  s.ID,
				"object":              "checkout.session",
				"amount_total":        s.AmountTotal,
				"currency":            s.Currency,
				"status":              string(s.Status),
				"payment_status":      s.PaymentStatus,
				"client_reference_id": s.ClientReferenceID,
				"metadata":            metadata,
			},
		},
	}

	payload, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	return payload, Sign(payload, secret, time.Now())
}

// Sign computes a Stripe-Signature header for payload.
func Sign(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}
