package payment

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Repository is the webhook idempotency ledger. Rows that change order state
// are written by the order repository inside the transition transaction; this
// side covers lookups, events that change nothing, and retention.
type Repository interface {
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
	RecordEvent(
		ctx context.Context,
		eventID string,
		eventType string,
		orderID *uuid.UUID,
		receivedAt time.Time,
	) (isDuplicate bool, err error)
	PruneProcessedEvents(ctx context.Context, receivedBefore time.Time) (int64, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events WHERE external_event_id = $1
		)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check processed event")
	}
	return exists, nil
}

func (r *repository) RecordEvent(
	ctx context.Context,
	eventID string,
	eventType string,
	orderID *uuid.UUID,
	receivedAt time.Time,
) (bool, error) {

	const q = `
	INSERT INTO processed_events (
		external_event_id,
		event_type,
		order_id,
		received_at
	)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (external_event_id)
	DO NOTHING
	RETURNING external_event_id;
	`

	var nullable uuid.NullUUID
	if orderID != nil {
		nullable = uuid.NullUUID{UUID: *orderID, Valid: true}
	}

	var id string
	err := r.db.QueryRowContext(ctx, q, eventID, eventType, nullable, receivedAt).Scan(&id)
	if err != nil {
		// Duplicate webhook → idempotent success
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, errors.Wrap(err, "insert processed event")
	}
	return false, nil
}

func (r *repository) PruneProcessedEvents(ctx context.Context, receivedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE received_at < $1
	`, receivedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "prune processed events")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}
