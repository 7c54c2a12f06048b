// Package webhook turns signed gateway events into order state transitions.
package webhook

import (
	"context"
	"strings"
	"time"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/logger"
	"fsw-food-be/internal/money"
	"fsw-food-be/internal/order"
	"fsw-food-be/internal/payment"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Result string

const (
	ResultApplied   Result = "applied"
	ResultNoOp      Result = "noop"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"

	// resultRejected labels metrics for events that were not acknowledged.
	resultRejected Result = "rejected"
)

const instrumentationName = "fsw-food-be/internal/payment/webhook"

type Processor struct {
	gateway payment.Gateway
	orders  order.Repository
	ledger  payment.Repository
	now     func() time.Time

	tracer trace.Tracer
	events metric.Int64Counter
}

// NewProcessor wires the processor. A nil meter falls back to the global
// meter provider.
func NewProcessor(
	gateway payment.Gateway,
	orders order.Repository,
	ledger payment.Repository,
	meter metric.Meter,
) (*Processor, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	events, err := meter.Int64Counter("webhook.events",
		metric.WithDescription("Webhook events by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook counter")
	}

	return &Processor{
		gateway: gateway,
		orders:  orders,
		ledger:  ledger,
		now:     time.Now,
		tracer:  otel.Tracer(instrumentationName),
		events:  events,
	}, nil
}

// HandleEvent verifies, deduplicates and applies one webhook delivery. A nil
// error means the delivery may be acknowledged.
func (p *Processor) HandleEvent(ctx context.Context, raw []byte, signatureHeader string) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "webhook.HandleEvent")
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("method", "HandleEvent"),
	)

	// 1. Signature and decoding, no side effects before this passes
	ev, err := p.gateway.ParseWebhook(raw, signatureHeader)
	if err != nil {
		log.Warn("webhook rejected", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
		p.record(ctx, "", resultRejected)
		span.RecordError(err)
		return "", err
	}

	meta := ev.Meta()
	span.SetAttributes(
		attribute.String("webhook.event_id", meta.ID),
		attribute.String("webhook.event_type", meta.Type),
	)
	ctx = logger.WithFields(ctx, zap.String("event_id", meta.ID), zap.String("event_type", meta.Type))
	log = logger.FromCtx(ctx).With(zap.String("layer", "webhook"))

	res, err := p.dispatch(ctx, ev)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPersistence {
			log.Error("webhook processing failed", zap.Error(err))
		} else {
			log.Warn("webhook refused", zap.Error(err))
		}
		p.record(ctx, meta.Type, resultRejected)
		span.RecordError(err)
		return "", err
	}

	log.Info("webhook processed", zap.String("result", string(res)))
	p.record(ctx, meta.Type, res)
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, ev payment.Event) (Result, error) {
	const op = "handle webhook"
	meta := ev.Meta()

	// 2. Ledger pre-check
	seen, err := p.ledger.HasProcessedEvent(ctx, meta.ID)
	if err != nil {
		return "", apperr.Persistence(op, err)
	}
	if seen {
		return ResultDuplicate, nil
	}

	// 3. Map variant to a state machine event
	switch e := ev.(type) {
	case payment.UnknownEvent:
		return p.ignore(ctx, meta, nil)

	case payment.CheckoutCompleted:
		orderID, err := resolveOrderID(e.Session)
		if err != nil {
			return "", err
		}
		if !e.Paid {
			logger.FromCtx(ctx).Info("checkout completed without payment, waiting for async result",
				zap.String("payment_status", e.Session.PaymentStatus))
			return p.ignore(ctx, meta, &orderID)
		}
		if err := p.verifyAmount(ctx, orderID, e.Session); err != nil {
			return "", err
		}
		return p.apply(ctx, meta, orderID, order.EventPaymentCompleted, e.Session.ID)

	case payment.CheckoutExpired:
		orderID, err := resolveOrderID(e.Session)
		if err != nil {
			return "", err
		}
		return p.apply(ctx, meta, orderID, order.EventPaymentExpired, e.Session.ID)

	case payment.CheckoutPaymentFailed:
		orderID, err := resolveOrderID(e.Session)
		if err != nil {
			return "", err
		}
		return p.apply(ctx, meta, orderID, order.EventPaymentFailed, e.Session.ID)
	}

	return p.ignore(ctx, meta, nil)
}

func resolveOrderID(s payment.Session) (uuid.UUID, error) {
	const op = "resolve order"

	raw := s.ResolveOrderID()
	if raw == "" {
		return uuid.Nil, apperr.Validation(op, "event carries no order id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.ValidationWrap(op, "event carries an invalid order id", err)
	}
	return id, nil
}

// verifyAmount checks a paid session against the stored order: the buyer in
// the metadata must own the order, the amount must equal the order total and
// the currency must be the one the session was opened with.
func (p *Processor) verifyAmount(ctx context.Context, orderID uuid.UUID, s payment.Session) error {
	const op = "verify amount"

	o, err := p.orders.GetOrder(ctx, orderID)
	if errors.Is(err, order.ErrOrderNotFound) {
		return apperr.ValidationWrap(op, "event references an unknown order", err)
	}
	if err != nil {
		return apperr.Persistence(op, err)
	}

	if s.UserID != "" && s.UserID != o.UserID {
		logger.FromCtx(ctx).Error("paying user does not own the order",
			zap.String("order_id", orderID.String()),
			zap.String("owner", o.UserID),
			zap.String("paid_by", s.UserID),
		)
		return apperr.Validation(op, "event user does not match the order")
	}

	expected, err := money.ToMinorUnits(o.TotalPrice)
	if err != nil {
		return apperr.ValidationWrap(op, "order total cannot be compared", err)
	}
	if s.AmountTotal != expected {
		logger.FromCtx(ctx).Error("paid amount does not match order total",
			zap.String("order_id", orderID.String()),
			zap.Int64("expected", expected),
			zap.Int64("paid", s.AmountTotal),
		)
		return apperr.Validation(op, "paid amount does not match the order")
	}

	cs, err := p.orders.GetCheckoutSessionByExternalID(ctx, s.ID)
	switch {
	case errors.Is(err, order.ErrSessionNotFound):
		return nil
	case err != nil:
		return apperr.Persistence(op, err)
	}
	if !strings.EqualFold(cs.Currency, s.Currency) {
		logger.FromCtx(ctx).Error("paid currency does not match checkout session",
			zap.String("order_id", orderID.String()),
			zap.String("expected", cs.Currency),
			zap.String("paid", s.Currency),
		)
		return apperr.Validation(op, "paid currency does not match the order")
	}
	return nil
}

// apply writes the ledger row and the transition in one transaction.
func (p *Processor) apply(
	ctx context.Context,
	meta payment.EventMeta,
	orderID uuid.UUID,
	ev order.Event,
	sessionID string,
) (Result, error) {
	const op = "apply webhook event"

	res, err := p.orders.ApplyWebhookEvent(ctx, order.ProcessedEvent{
		ExternalEventID: meta.ID,
		EventType:       meta.Type,
		OrderID:         &orderID,
		ReceivedAt:      p.now(),
	}, orderID, ev, sessionID)
	if errors.Is(err, order.ErrOrderNotFound) {
		return "", apperr.ValidationWrap(op, "event references an unknown order", err)
	}
	if err != nil {
		return "", apperr.Persistence(op, err)
	}

	switch {
	case res.Duplicate:
		return ResultDuplicate, nil
	case res.Applied:
		logger.FromCtx(ctx).Info("order status changed",
			zap.String("order_id", orderID.String()),
			zap.String("from", string(res.From)),
			zap.String("to", string(res.To)),
		)
		return ResultApplied, nil
	}
	return ResultNoOp, nil
}

// ignore records an event that changes nothing so redeliveries short-circuit.
func (p *Processor) ignore(ctx context.Context, meta payment.EventMeta, orderID *uuid.UUID) (Result, error) {
	dup, err := p.ledger.RecordEvent(ctx, meta.ID, meta.Type, orderID, p.now())
	if err != nil {
		return "", apperr.Persistence("record ignored event", err)
	}
	if dup {
		return ResultDuplicate, nil
	}
	return ResultIgnored, nil
}

func (p *Processor) record(ctx context.Context, eventType string, res Result) {
	p.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", string(res)),
		attribute.String("event_type", eventType),
	))
}
