package order

import (
	"context"
	"database/sql"
	"time"

	"fsw-food-be/internal/db"
	"fsw-food-be/internal/logger"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	// ListOrdersByUser returns the user's orders with their lines, newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error)

	CreateCheckoutSession(ctx context.Context, s *CheckoutSession) error
	GetOpenCheckoutSession(ctx context.Context, orderID uuid.UUID) (*CheckoutSession, error)
	GetCheckoutSessionByExternalID(ctx context.Context, externalSessionID string) (*CheckoutSession, error)
	// ListStaleSessions returns open sessions of pending orders created before
	// createdBefore. Sessions never checked come first, then the least
	// recently checked ones.
	ListStaleSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*CheckoutSession, error)
	MarkSessionChecked(ctx context.Context, externalSessionID string, at time.Time) error

	// TransitionStatus applies ev to the order with a compare-and-set on the
	// current status.
	TransitionStatus(
		ctx context.Context,
		orderID uuid.UUID,
		ev Event,
		externalSessionID string,
	) (*TransitionResult, error)

	// ApplyWebhookEvent records the ledger row and applies ev in one
	// transaction. A ledger conflict returns Duplicate without touching the order.
	ApplyWebhookEvent(
		ctx context.Context,
		pe ProcessedEvent,
		orderID uuid.UUID,
		ev Event,
		externalSessionID string,
	) (*TransitionResult, error)
}

type repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db, now: time.Now}
}

const orderColumns = `
	id, user_id, restaurant_id, status,
	subtotal_price, delivery_fee, total_discounts, total_price,
	delivery_time_minutes, created_at, updated_at`

const sessionColumns = `
	id, order_id, external_session_id, idempotency_key,
	amount_authorized, currency, url, status, created_at`

func (r *repository) CreateOrder(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreateOrder"),
		zap.String("order_id", o.ID.String()),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		o.ID,
		o.UserID,
		o.RestaurantID,
		o.Status,
		o.SubtotalPrice,
		o.DeliveryFee,
		o.TotalDiscounts,
		o.TotalPrice,
		o.DeliveryTimeMinutes,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert order", zap.Error(err))
		return errors.Wrap(err, "insert order")
	}

	for i, line := range o.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (
				order_id, position, product_id, name, description, image_url, quantity, unit_price
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			o.ID,
			i,
			line.ProductID,
			line.Name,
			line.Description,
			line.ImageURL,
			line.Quantity,
			line.UnitPriceSnapshot,
		)
		if err != nil {
			log.Error("failed to insert order line", zap.Int("position", i), zap.Error(err))
			return errors.Wrap(err, "insert order line")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}

	log.Debug("order inserted", zap.Int("lines", len(o.Lines)))
	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.RestaurantID,
		&o.Status,
		&o.SubtotalPrice,
		&o.DeliveryFee,
		&o.TotalDiscounts,
		&o.TotalPrice,
		&o.DeliveryTimeMinutes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

const lineColumns = `product_id, name, description, image_url, quantity, unit_price`

func scanLine(row interface{ Scan(...any) error }, dest ...any) (OrderLine, error) {
	var line OrderLine
	err := row.Scan(append(dest,
		&line.ProductID,
		&line.Name,
		&line.Description,
		&line.ImageURL,
		&line.Quantity,
		&line.UnitPriceSnapshot,
	)...)
	return line, err
}

func (r *repository) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order lines")
	}
	defer rows.Close()

	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order line")
		}
		o.Lines = append(o.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order lines")
	}

	return o, nil
}

func (r *repository) ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ListOrdersByUser"),
	)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		log.Error("failed to select orders", zap.Error(err))
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	var (
		orders []*Order
		ids    []string
		byID   = make(map[uuid.UUID]*Order)
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, o)
		ids = append(ids, o.ID.String())
		byID[o.ID] = o
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	if len(orders) == 0 {
		return orders, nil
	}

	// One query for every order's lines.
	lineRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, `+lineColumns+`
		FROM order_lines
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		log.Error("failed to select order lines", zap.Error(err))
		return nil, errors.Wrap(err, "select order lines")
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var orderID uuid.UUID
		line, err := scanLine(lineRows, &orderID)
		if err != nil {
			return nil, errors.Wrap(err, "scan order line")
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order lines")
	}

	log.Debug("orders listed", zap.Int("count", len(orders)))
	return orders, nil
}

func (r *repository) CreateCheckoutSession(ctx context.Context, s *CheckoutSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		s.ID,
		s.OrderID,
		s.ExternalSessionID,
		s.IdempotencyKey,
		s.AmountAuthorized,
		s.Currency,
		s.URL,
		s.Status,
		s.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrSessionExists
	}
	if err != nil {
		return errors.Wrap(err, "insert checkout session")
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*CheckoutSession, error) {
	var s CheckoutSession
	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.ExternalSessionID,
		&s.IdempotencyKey,
		&s.AmountAuthorized,
		&s.Currency,
		&s.URL,
		&s.Status,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) GetOpenCheckoutSession(ctx context.Context, orderID uuid.UUID) (*CheckoutSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM checkout_sessions
		WHERE order_id = $1 AND status = $2
	`, orderID, CheckoutSessionStatusOpen))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select open checkout session")
	}
	return s, nil
}

func (r *repository) GetCheckoutSessionByExternalID(ctx context.Context, externalSessionID string) (*CheckoutSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM checkout_sessions
		WHERE external_session_id = $1
	`, externalSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select checkout session")
	}
	return s, nil
}

func (r *repository) ListStaleSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*CheckoutSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			cs.id, cs.order_id, cs.external_session_id, cs.idempotency_key,
			cs.amount_authorized, cs.currency, cs.url, cs.status, cs.created_at
		FROM checkout_sessions cs
		JOIN orders o ON o.id = cs.order_id
		WHERE cs.status = $1
			AND o.status = $2
			AND cs.created_at < $3
		ORDER BY cs.last_checked_at NULLS FIRST, cs.created_at
		LIMIT $4
	`, CheckoutSessionStatusOpen, StatusPending, createdBefore, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select stale sessions")
	}
	defer rows.Close()

	var sessions []*CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan stale session")
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate stale sessions")
	}
	return sessions, nil
}

func (r *repository) MarkSessionChecked(ctx context.Context, externalSessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET last_checked_at = $1
		WHERE external_session_id = $2
	`, at, externalSessionID)
	if err != nil {
		return errors.Wrap(err, "mark checkout session checked")
	}
	return nil
}

func (r *repository) TransitionStatus(
	ctx context.Context,
	orderID uuid.UUID,
	ev Event,
	externalSessionID string,
) (*TransitionResult, error) {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	res, err := r.transitionTx(ctx, tx, orderID, ev, externalSessionID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return res, nil
}

func (r *repository) ApplyWebhookEvent(
	ctx context.Context,
	pe ProcessedEvent,
	orderID uuid.UUID,
	ev Event,
	externalSessionID string,
) (*TransitionResult, error) {

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ApplyWebhookEvent"),
		zap.String("event_id", pe.ExternalEventID),
		zap.String("order_id", orderID.String()),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	// 1. Ledger first: a conflict means another delivery already won.
	var recorded string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO processed_events (external_event_id, event_type, order_id, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_event_id) DO NOTHING
		RETURNING external_event_id
	`, pe.ExternalEventID, pe.EventType, orderID, pe.ReceivedAt).Scan(&recorded)
	if errors.Is(err, sql.ErrNoRows) {
		log.Info("event already in ledger")
		return &TransitionResult{Duplicate: true}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert processed event")
	}

	// 2. Conditional transition under the same transaction.
	res, err := r.transitionTx(ctx, tx, orderID, ev, externalSessionID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}

	log.Info("webhook event applied",
		zap.String("from", string(res.From)),
		zap.String("to", string(res.To)),
		zap.Bool("applied", res.Applied),
	)
	return res, nil
}

// transitionTx locks the order row, runs the state machine and writes the new
// status with a compare-and-set on the status it read.
func (r *repository) transitionTx(
	ctx context.Context,
	tx *sql.Tx,
	orderID uuid.UUID,
	ev Event,
	externalSessionID string,
) (*TransitionResult, error) {

	var current OrderStatus
	err := tx.QueryRowContext(ctx, `
		SELECT status FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}

	to, changed := Transition(current, ev)
	res := &TransitionResult{From: current, To: to}
	if !changed {
		return res, nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, to, r.now(), orderID, current)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		// Lost the compare-and-set; the winner's terminal status stands.
		res.To = current
		return res, nil
	}
	res.Applied = true

	if externalSessionID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE checkout_sessions
			SET status = $1
			WHERE external_session_id = $2 AND status = $3
		`, SessionStatusFor(ev), externalSessionID, CheckoutSessionStatusOpen)
		if err != nil {
			return nil, errors.Wrap(err, "update checkout session status")
		}
	}

	return res, nil
}
