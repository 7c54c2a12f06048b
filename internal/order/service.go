package order

import (
	"context"
	"fmt"
	"time"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/auth"
	"fsw-food-be/internal/config"
	"fsw-food-be/internal/logger"
	"fsw-food-be/internal/money"
	"fsw-food-be/internal/payment"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service interface {
	// CreateOrder stores a PENDING order for the caller's cart and opens a
	// checkout session for it. A gateway failure after the insert returns a
	// *CheckoutError carrying the order id.
	CreateOrder(ctx context.Context, cart Cart) (*CheckoutResult, error)

	// StartCheckout opens (or returns the already open) checkout session of a
	// PENDING order owned by the caller. items must add up to the order
	// subtotal; the session itself is built from the stored order lines.
	StartCheckout(ctx context.Context, orderID uuid.UUID, items []DisplayItem) (*CheckoutResult, error)

	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)

	// ListOrders returns the caller's orders, newest first.
	ListOrders(ctx context.Context) ([]*Order, error)

	// GetCheckoutSummary reads the session from the gateway. It never writes.
	GetCheckoutSummary(ctx context.Context, sessionID string) (*CheckoutSummary, error)

	// ApplyTransition runs ev against the order without a ledger row.
	ApplyTransition(
		ctx context.Context,
		orderID uuid.UUID,
		ev Event,
		externalSessionID string,
	) (*TransitionResult, error)
}

// Options are the checkout settings of the service.
type Options struct {
	Currency       string
	SuccessURL     string
	CancelURL      string
	GatewayTimeout time.Duration
	MaxAttempts    uint
	SessionTTL     time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Currency:       cfg.Checkout.Currency,
		SuccessURL:     cfg.SuccessURL() + "?sessionId={CHECKOUT_SESSION_ID}",
		CancelURL:      cfg.CancelURL(),
		GatewayTimeout: cfg.Checkout.GatewayTimeout,
		MaxAttempts:    cfg.Checkout.GatewayMaxAttempts,
		SessionTTL:     cfg.Checkout.SessionTTL,
	}
}

// minSessionWindow is the shortest expiry the gateway accepts for a new session.
const minSessionWindow = 30 * time.Minute

type service struct {
	repo       Repository
	gateway    payment.Gateway
	opts       Options
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func NewService(repo Repository, gateway payment.Gateway, opts Options) Service {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1
	}
	return &service{
		repo:    repo,
		gateway: gateway,
		opts:    opts,
		now:     time.Now,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// ----------------- CreateOrder -----------------

func (s *service) CreateOrder(ctx context.Context, cart Cart) (*CheckoutResult, error) {
	const op = "create order"

	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, apperr.Auth(op, "login required")
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreateOrder"),
		zap.String("restaurant_id", cart.RestaurantID),
	)

	// 1. Validate and price the cart
	if err := validateCart(cart); err != nil {
		log.Warn("invalid cart", zap.Error(err))
		return nil, err
	}
	totals, err := CalculateTotals(cart)
	if err != nil {
		log.Warn("invalid totals", zap.Error(err))
		return nil, err
	}

	// 2. Build the order; the id exists before the first gateway call
	now := s.now()
	o := &Order{
		ID:                  uuid.New(),
		UserID:              user.ID,
		RestaurantID:        cart.RestaurantID,
		Status:              StatusPending,
		SubtotalPrice:       totals.Subtotal,
		DeliveryFee:         totals.DeliveryFee,
		TotalDiscounts:      totals.TotalDiscounts,
		TotalPrice:          totals.Total,
		DeliveryTimeMinutes: cart.DeliveryTimeMinutes,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, line := range cart.Lines {
		o.Lines = append(o.Lines, OrderLine{
			ProductID:         line.ProductID,
			Name:              line.Name,
			Description:       line.Description,
			ImageURL:          line.ImageURL,
			Quantity:          line.Quantity,
			UnitPriceSnapshot: money.Normalize(line.UnitPrice),
		})
	}

	// 3. Persist PENDING order with its lines
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		log.Error("failed to store order", zap.Error(err))
		return nil, apperr.Persistence(op, err)
	}

	log = log.With(zap.String("order_id", o.ID.String()))
	log.Info("order created",
		zap.String("total", money.Format(o.TotalPrice)),
		zap.Int("lines", len(o.Lines)),
	)

	// 4. Open the checkout session
	res, err := s.openSession(ctx, o)
	if err != nil {
		log.Error("checkout session failed, order left pending", zap.Error(err))
		return nil, &CheckoutError{OrderID: o.ID, Err: err}
	}
	return res, nil
}

// ----------------- StartCheckout -----------------

func (s *service) StartCheckout(ctx context.Context, orderID uuid.UUID, items []DisplayItem) (*CheckoutResult, error) {
	const op = "start checkout"

	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, apperr.Auth(op, "login required")
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "StartCheckout"),
		zap.String("order_id", orderID.String()),
	)

	if orderID == uuid.Nil {
		return nil, apperr.Validation(op, "orderId is required")
	}
	if len(items) == 0 {
		return nil, apperr.Validation(op, "items are required")
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, apperr.ValidationWrap(op, ErrInvalidQuantity.Error(), ErrInvalidQuantity)
		}
		if !money.Normalize(it.Price).IsPositive() {
			return nil, apperr.ValidationWrap(op, ErrInvalidPrice.Error(), ErrInvalidPrice)
		}
	}

	o, err := s.loadOrder(ctx, op, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != user.ID && !user.IsAdmin() {
		log.Warn("checkout attempted by non-owner", zap.String("caller", user.ID))
		return nil, apperr.Forbidden(op, "order belongs to another user")
	}
	if o.Status != StatusPending {
		return nil, apperr.Conflict(op, fmt.Sprintf("order is %s", o.Status))
	}

	existing, err := s.repo.GetOpenCheckoutSession(ctx, orderID)
	switch {
	case err == nil:
		log.Info("reusing open checkout session", zap.String("session_id", existing.ExternalSessionID))
		return &CheckoutResult{
			OrderID:     o.ID,
			SessionID:   existing.ExternalSessionID,
			RedirectURL: existing.URL,
		}, nil
	case !errors.Is(err, ErrSessionNotFound):
		return nil, apperr.Persistence(op, err)
	}

	if !matchesSubtotal(items, o.SubtotalPrice) {
		log.Warn("checkout items do not add up to the order subtotal",
			zap.String("subtotal", money.Format(o.SubtotalPrice)),
		)
		return nil, apperr.ValidationWrap(op, ErrItemsMismatch.Error(), ErrItemsMismatch)
	}

	return s.openSession(ctx, o)
}

// ----------------- Reads -----------------

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	const op = "get order"

	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, apperr.Auth(op, "login required")
	}

	o, err := s.loadOrder(ctx, op, orderID)
	if err != nil {
		return nil, err
	}
	// Other users' orders read as missing.
	if o.UserID != user.ID && !user.IsAdmin() {
		return nil, apperr.NotFound(op, ErrOrderNotFound.Error())
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context) ([]*Order, error) {
	const op = "list orders"

	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, apperr.Auth(op, "login required")
	}

	orders, err := s.repo.ListOrdersByUser(ctx, user.ID)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to list orders",
			zap.String("layer", "service"),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return nil, apperr.Persistence(op, err)
	}
	return orders, nil
}

func (s *service) GetCheckoutSummary(ctx context.Context, sessionID string) (*CheckoutSummary, error) {
	const op = "get checkout summary"

	if sessionID == "" {
		return nil, apperr.Validation(op, "sessionId is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	sess, err := s.gateway.RetrieveSession(callCtx, sessionID)
	if err != nil {
		logger.FromCtx(ctx).Warn("checkout summary lookup failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil, err
	}

	return &CheckoutSummary{
		OrderID:       sess.ResolveOrderID(),
		SessionID:     sess.ID,
		AmountTotal:   money.FromMinorUnits(sess.AmountTotal),
		Currency:      sess.Currency,
		PaymentStatus: sess.PaymentStatus,
		SessionStatus: string(sess.Status),
	}, nil
}

// ----------------- ApplyTransition -----------------

func (s *service) ApplyTransition(
	ctx context.Context,
	orderID uuid.UUID,
	ev Event,
	externalSessionID string,
) (*TransitionResult, error) {
	const op = "apply transition"

	if !ev.Valid() {
		return nil, apperr.Validation(op, fmt.Sprintf("unknown event %q", ev))
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ApplyTransition"),
		zap.String("order_id", orderID.String()),
		zap.String("event", string(ev)),
	)

	res, err := s.repo.TransitionStatus(ctx, orderID, ev, externalSessionID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, apperr.NotFound(op, ErrOrderNotFound.Error())
	}
	if err != nil {
		log.Error("transition failed", zap.Error(err))
		return nil, apperr.Persistence(op, err)
	}

	if res.Applied {
		log.Info("order status changed", zap.String("from", string(res.From)), zap.String("to", string(res.To)))
	} else {
		log.Debug("transition was a no-op", zap.String("status", string(res.To)))
	}
	return res, nil
}

// ----------------- helpers -----------------

func (s *service) loadOrder(ctx context.Context, op string, orderID uuid.UUID) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, apperr.NotFound(op, ErrOrderNotFound.Error())
	}
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return o, nil
}

// openSession asks the gateway for a checkout session and stores it. Every
// parameter sent under the idempotency key derives from the stored order, so
// a retry after a lost response replays the same request.
func (s *service) openSession(ctx context.Context, o *Order) (*CheckoutResult, error) {
	const op = "open checkout session"

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "openSession"),
		zap.String("order_id", o.ID.String()),
	)

	lines, err := gatewayLines(o)
	if err != nil {
		return nil, err
	}

	key := CheckoutIdempotencyKey(o.ID)
	req := payment.CheckoutRequest{
		OrderID:        o.ID.String(),
		UserID:         o.UserID,
		IdempotencyKey: key,
		Currency:       s.opts.Currency,
		Lines:          lines,
		SuccessURL:     s.opts.SuccessURL,
		CancelURL:      s.opts.CancelURL,
	}
	if s.opts.SessionTTL > 0 {
		req.ExpiresAt = o.CreatedAt.Add(s.opts.SessionTTL)
		if req.ExpiresAt.Before(s.now().Add(minSessionWindow)) {
			log.Warn("checkout window closed", zap.Time("expires_at", req.ExpiresAt))
			return nil, apperr.ValidationWrap(op, ErrCheckoutClosed.Error(), ErrCheckoutClosed)
		}
	}

	sess, err := s.createSession(ctx, req)
	if err != nil {
		return nil, err
	}

	currency := sess.Currency
	if currency == "" {
		currency = req.Currency
	}
	cs := &CheckoutSession{
		ID:                uuid.New(),
		OrderID:           o.ID,
		ExternalSessionID: sess.ID,
		IdempotencyKey:    key,
		AmountAuthorized:  money.FromMinorUnits(sess.AmountTotal),
		Currency:          currency,
		URL:               sess.URL,
		Status:            CheckoutSessionStatusOpen,
		CreatedAt:         s.now(),
	}

	err = s.repo.CreateCheckoutSession(ctx, cs)
	if errors.Is(err, ErrSessionExists) {
		// A concurrent request stored the session first.
		existing, gerr := s.repo.GetOpenCheckoutSession(ctx, o.ID)
		if gerr != nil {
			return nil, apperr.Persistence(op, gerr)
		}
		cs = existing
	} else if err != nil {
		log.Error("failed to store checkout session", zap.Error(err))
		return nil, apperr.Persistence(op, err)
	}

	log.Info("checkout session ready", zap.String("session_id", cs.ExternalSessionID))
	return &CheckoutResult{
		OrderID:     o.ID,
		SessionID:   cs.ExternalSessionID,
		RedirectURL: cs.URL,
	}, nil
}

// createSession calls the gateway with a per-attempt timeout, retrying
// transient failures with the same idempotency key.
func (s *service) createSession(ctx context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	const op = "create checkout session"

	log := logger.FromCtx(ctx).With(
		zap.String("order_id", req.OrderID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	attempt := 0
	call := func() (*payment.Session, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
		defer cancel()

		sess, err := s.gateway.CreateCheckoutSession(attemptCtx, req)
		if err != nil {
			if !apperr.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			log.Warn("gateway attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		return sess, nil
	}

	sess, err := backoff.Retry(ctx, call,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.opts.MaxAttempts),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Timeout(op, err)
		}
		var classified *apperr.Error
		if !errors.As(err, &classified) {
			return nil, apperr.Gateway(op, err)
		}
		return nil, err
	}
	return sess, nil
}

// gatewayLines maps the stored order lines onto hosted-page line items.
// Without discounts every line is shown plus a delivery fee line; with
// discounts a single line carries the total. The amounts always add up to the
// order total.
func gatewayLines(o *Order) ([]payment.LineItem, error) {
	const op = "map line items"

	total, err := money.ToMinorUnits(o.TotalPrice)
	if err != nil {
		return nil, apperr.ValidationWrap(op, "order total cannot be charged", err)
	}

	if !o.TotalDiscounts.IsZero() {
		return []payment.LineItem{{
			Name:        "Order " + o.ID.String()[:8],
			Description: fmt.Sprintf("%d item(s), delivery and discounts included", len(o.Lines)),
			UnitAmount:  total,
			Quantity:    1,
		}}, nil
	}

	lines := make([]payment.LineItem, 0, len(o.Lines)+1)
	var sum int64
	for _, l := range o.Lines {
		unit, err := money.ToMinorUnits(l.UnitPriceSnapshot)
		if err != nil {
			return nil, apperr.ValidationWrap(op, "item price cannot be charged", err)
		}
		lines = append(lines, payment.LineItem{
			Name:        l.Name,
			Description: l.Description,
			ImageURL:    l.ImageURL,
			UnitAmount:  unit,
			Quantity:    int64(l.Quantity),
		})
		sum += unit * int64(l.Quantity)
	}
	if o.DeliveryFee.IsPositive() {
		fee, err := money.ToMinorUnits(o.DeliveryFee)
		if err != nil {
			return nil, apperr.ValidationWrap(op, "delivery fee cannot be charged", err)
		}
		lines = append(lines, payment.LineItem{
			Name:       "Delivery fee",
			UnitAmount: fee,
			Quantity:   1,
		})
		sum += fee
	}

	if sum != total {
		return nil, apperr.ValidationWrap(op, ErrItemsMismatch.Error(), ErrItemsMismatch)
	}
	return lines, nil
}
