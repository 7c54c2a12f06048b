package payment

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/config"
	"fsw-food-be/internal/logger"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

type stripeGateway struct {
	sessions      session.Client
	webhookSecret string
	tolerance     time.Duration
}

// ----------------- Constructor -----------------

// NewStripeGateway builds a gateway on its own backend so the secret key and
// HTTP client never leak into stripe-go's package globals. The SDK's own
// retries are off: callers retry with the same idempotency key.
func NewStripeGateway(cfg config.StripeConfig, httpClient *http.Client) Gateway {
	if cfg.SecretKey == "" {
		logger.L().Warn("Stripe secret key is empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger.L().Named("stripe").Sugar(),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &stripeGateway{
		sessions: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
		tolerance:     tolerance,
	}
}

// ----------------- CreateCheckoutSession -----------------

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	const op = "create checkout session"

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "CreateCheckoutSession"),
		zap.String("order_id", req.OrderID),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Int64("amount_total", req.AmountTotal()),
	)

	if len(req.Lines) == 0 {
		return nil, apperr.Validation(op, "checkout needs at least one line item")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		PaymentMethodTypes: []*string{
			stripe.String("card"),
		},
	}
	for _, line := range req.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(line.Name),
		}
		if line.Description != "" {
			product.Description = stripe.String(line.Description)
		}
		if line.ImageURL != "" {
			product.Images = []*string{stripe.String(line.ImageURL)}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(line.UnitAmount),
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}

	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(MetadataOrderID, req.OrderID)
	params.AddMetadata(MetadataUserID, req.UserID)

	log.Info("Sending checkout session request to Stripe")

	cs, err := g.sessions.New(params)
	if err != nil {
		log.Error("Stripe checkout session request failed", zap.Error(err))
		return nil, classify(op, err)
	}

	log.Info("Stripe checkout session created", zap.String("session_id", cs.ID))
	return fromStripe(cs), nil
}

// ----------------- RetrieveSession -----------------

func (g *stripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	const op = "retrieve checkout session"

	if sessionID == "" {
		return nil, apperr.ValidationWrap(op, ErrEmptySessionID.Error(), ErrEmptySessionID)
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "RetrieveSession"),
		zap.String("session_id", sessionID),
	)

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	cs, err := g.sessions.Get(sessionID, params)
	if err != nil {
		log.Error("Stripe session lookup failed", zap.Error(err))
		return nil, classify(op, err)
	}
	return fromStripe(cs), nil
}

// ----------------- ParseWebhook -----------------

func (g *stripeGateway) ParseWebhook(payload []byte, signatureHeader string) (Event, error) {
	const op = "parse webhook"

	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                g.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		if isSignatureError(err) {
			return nil, apperr.Signature(op, err)
		}
		return nil, apperr.ValidationWrap(op, ErrMalformedEvent.Error(), errors.Wrap(ErrMalformedEvent, err.Error()))
	}

	return decodeEvent(ev)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func decodeEvent(ev stripe.Event) (Event, error) {
	meta := EventMeta{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Created: time.Unix(ev.Created, 0).UTC(),
	}
	if meta.ID == "" {
		return nil, apperr.ValidationWrap("decode event", "event id is missing", ErrMalformedEvent)
	}

	switch meta.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceeded,
		EventCheckoutExpired, EventCheckoutAsyncPaymentFailed:
	default:
		return UnknownEvent{EventMeta: meta}, nil
	}

	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, apperr.ValidationWrap("decode event", "event has no data object", ErrMalformedEvent)
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return nil, apperr.ValidationWrap("decode event", "event data is not a checkout session", err)
	}
	s := *fromStripe(&cs)

	switch meta.Type {
	case EventCheckoutCompleted:
		return CheckoutCompleted{EventMeta: meta, Session: s, Paid: s.Paid()}, nil
	case EventCheckoutAsyncPaymentSucceeded:
		return CheckoutCompleted{EventMeta: meta, Session: s, Paid: true}, nil
	case EventCheckoutExpired:
		return CheckoutExpired{EventMeta: meta, Session: s}, nil
	default:
		return CheckoutPaymentFailed{EventMeta: meta, Session: s}, nil
	}
}

func fromStripe(cs *stripe.CheckoutSession) *Session {
	s := &Session{
		ID:                cs.ID,
		URL:               cs.URL,
		ClientReferenceID: cs.ClientReferenceID,
		AmountTotal:       cs.AmountTotal,
		Currency:          string(cs.Currency),
		Status:            SessionStatus(cs.Status),
		PaymentStatus:     string(cs.PaymentStatus),
	}
	if cs.Metadata != nil {
		s.OrderID = cs.Metadata[MetadataOrderID]
		s.UserID = cs.Metadata[MetadataUserID]
	}
	if cs.PaymentIntent != nil {
		s.PaymentIntentStatus = string(cs.PaymentIntent.Status)
	}
	return s
}

// classify maps SDK and transport failures onto the error taxonomy. Rate
// limits and 5xx answers are transient, other API errors are permanent.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Timeout(op, err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500 {
			return apperr.Gateway(op, err)
		}
		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return apperr.NotFound(op, "checkout session not found")
		}
		return apperr.ValidationWrap(op, "payment gateway rejected the request", err)
	}

	return apperr.Gateway(op, err)
}
