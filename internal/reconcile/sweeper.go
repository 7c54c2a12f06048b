// Package reconcile settles orders whose webhooks never arrived by asking the
// gateway for the state of stale checkout sessions.
package reconcile

import (
	"context"
	"sync"
	"time"

	"fsw-food-be/internal/config"
	"fsw-food-be/internal/logger"
	"fsw-food-be/internal/money"
	"fsw-food-be/internal/order"
	"fsw-food-be/internal/payment"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report summarises one sweep.
type Report struct {
	Checked   int
	Confirmed int
	Cancelled int
	StillOpen int
	Failed    int
	Pruned    int64
}

type Sweeper struct {
	orders  order.Repository
	ledger  payment.Repository
	service order.Service
	gateway payment.Gateway
	cfg     config.SweepConfig
	timeout time.Duration
	now     func() time.Time
}

func NewSweeper(
	orders order.Repository,
	ledger payment.Repository,
	service order.Service,
	gateway payment.Gateway,
	cfg config.SweepConfig,
	gatewayTimeout time.Duration,
) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 10 * time.Second
	}
	return &Sweeper{
		orders:  orders,
		ledger:  ledger,
		service: service,
		gateway: gateway,
		cfg:     cfg,
		timeout: gatewayTimeout,
		now:     time.Now,
	}
}

// Run sweeps every cfg.Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.L().With(zap.String("component", "reconcile"))
	if s.cfg.Interval <= 0 {
		log.Info("reconciliation sweep disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info("reconciliation sweep started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("reconciliation sweep stopped")
			return
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			if err != nil {
				log.Error("reconciliation sweep failed", zap.Error(err))
				continue
			}
			if report.Checked > 0 || report.Pruned > 0 {
				log.Info("reconciliation sweep finished",
					zap.Int("checked", report.Checked),
					zap.Int("confirmed", report.Confirmed),
					zap.Int("cancelled", report.Cancelled),
					zap.Int("still_open", report.StillOpen),
					zap.Int("failed", report.Failed),
					zap.Int64("pruned", report.Pruned),
				)
			}
		}
	}
}

// RunOnce checks one batch of stale sessions and prunes the event ledger.
// Failures on single sessions are counted, not returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	now := s.now()

	sessions, err := s.orders.ListStaleSessions(ctx, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return Report{}, errors.Wrap(err, "list stale sessions")
	}

	var (
		mu     sync.Mutex
		report = Report{Checked: len(sessions)}
	)
	tally := func(fn func(r *Report)) {
		mu.Lock()
		fn(&report)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, cs := range sessions {
		g.Go(func() error {
			outcome, err := s.settle(ctx, cs)
			// Unsettled sessions move to the back of the queue.
			if merr := s.orders.MarkSessionChecked(ctx, cs.ExternalSessionID, now); merr != nil {
				logger.FromCtx(ctx).Warn("failed to mark session checked",
					zap.String("session_id", cs.ExternalSessionID),
					zap.Error(merr),
				)
			}
			tally(func(r *Report) {
				switch {
				case err != nil:
					r.Failed++
				case outcome == order.StatusConfirmed:
					r.Confirmed++
				case outcome == order.StatusCancelled:
					r.Cancelled++
				default:
					r.StillOpen++
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	if s.cfg.EventRetention > 0 {
		pruned, err := s.ledger.PruneProcessedEvents(ctx, now.Add(-s.cfg.EventRetention))
		if err != nil {
			return report, errors.Wrap(err, "prune processed events")
		}
		report.Pruned = pruned
	}

	return report, nil
}

// settle applies the gateway's view of one session. It returns the status the
// sweep moved the order to, or PENDING when nothing changed.
func (s *Sweeper) settle(ctx context.Context, cs *order.CheckoutSession) (order.OrderStatus, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("component", "reconcile"),
		zap.String("order_id", cs.OrderID.String()),
		zap.String("session_id", cs.ExternalSessionID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.gateway.RetrieveSession(callCtx, cs.ExternalSessionID)
	if err != nil {
		log.Warn("session lookup failed", zap.Error(err))
		return "", err
	}

	var ev order.Event
	switch {
	case sess.Status == payment.SessionStatusComplete && sess.Paid():
		expected, err := money.ToMinorUnits(cs.AmountAuthorized)
		if err != nil || expected != sess.AmountTotal {
			log.Error("paid amount does not match checkout session",
				zap.Int64("paid", sess.AmountTotal),
				zap.String("authorized", money.Format(cs.AmountAuthorized)),
			)
			return "", errors.New("amount mismatch")
		}
		ev = order.EventPaymentCompleted
	case sess.Status == payment.SessionStatusExpired:
		ev = order.EventPaymentExpired
	case sess.PaymentFailed():
		ev = order.EventPaymentFailed
	default:
		return order.StatusPending, nil
	}

	res, err := s.service.ApplyTransition(ctx, cs.OrderID, ev, cs.ExternalSessionID)
	if err != nil {
		log.Warn("transition failed", zap.Error(err))
		return "", err
	}
	if !res.Applied {
		return order.StatusPending, nil
	}
	log.Info("order settled by sweep", zap.String("status", string(res.To)))
	return res.To, nil
}
