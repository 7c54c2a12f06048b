package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"fsw-food-be/internal/apperr"
	"fsw-food-be/internal/auth"
	"fsw-food-be/internal/payment"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrder(ctx context.Context, o *Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) ListOrdersByUser(ctx context.Context, userID string) ([]*Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Order), args.Error(1)
}

func (m *MockRepository) CreateCheckoutSession(ctx context.Context, s *CheckoutSession) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockRepository) GetOpenCheckoutSession(ctx context.Context, orderID uuid.UUID) (*CheckoutSession, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutSession), args.Error(1)
}

func (m *MockRepository) GetCheckoutSessionByExternalID(ctx context.Context, externalSessionID string) (*CheckoutSession, error) {
	args := m.Called(ctx, externalSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutSession), args.Error(1)
}

func (m *MockRepository) ListStaleSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*CheckoutSession, error) {
	args := m.Called(ctx, createdBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*CheckoutSession), args.Error(1)
}

func (m *MockRepository) MarkSessionChecked(ctx context.Context, externalSessionID string, at time.Time) error {
	return m.Called(ctx, externalSessionID, at).Error(0)
}

func (m *MockRepository) TransitionStatus(ctx context.Context, orderID uuid.UUID, ev Event, externalSessionID string) (*TransitionResult, error) {
	args := m.Called(ctx, orderID, ev, externalSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TransitionResult), args.Error(1)
}

func (m *MockRepository) ApplyWebhookEvent(ctx context.Context, pe ProcessedEvent, orderID uuid.UUID, ev Event, externalSessionID string) (*TransitionResult, error) {
	args := m.Called(ctx, pe, orderID, ev, externalSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TransitionResult), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *MockGateway) RetrieveSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *MockGateway) ParseWebhook(payload []byte, signatureHeader string) (payment.Event, error) {
	args := m.Called(payload, signatureHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(payment.Event), args.Error(1)
}

// --- Helpers ---

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository, gw payment.Gateway) *service {
	svc := NewService(repo, gw, Options{
		Currency:       "brl",
		SuccessURL:     "http://localhost:3000/payment/success?sessionId={CHECKOUT_SESSION_ID}",
		CancelURL:      "http://localhost:3000/payment/cancel",
		GatewayTimeout: time.Second,
		MaxAttempts:    3,
	}).(*service)
	svc.now = func() time.Time { return fixedNow }
	svc.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return svc
}

func buyerCtx(id string) context.Context {
	return auth.WithUser(context.Background(), auth.User{ID: id, Email: id + "@example.com", Role: "USER"})
}

func pendingOrder(userID string) *Order {
	return &Order{
		ID:             uuid.New(),
		UserID:         userID,
		RestaurantID:   "rest-1",
		Status:         StatusPending,
		SubtotalPrice:  d("39.90"),
		DeliveryFee:    d("5.00"),
		TotalDiscounts: d("0"),
		TotalPrice:     d("44.90"),
		CreatedAt:      fixedNow.Add(-5 * time.Minute),
		UpdatedAt:      fixedNow.Add(-5 * time.Minute),
		Lines: []OrderLine{
			{ProductID: "product-a", Name: "Product A", Description: "House special", ImageURL: "https://cdn.test/a.png", Quantity: 2, UnitPriceSnapshot: d("15.00")},
			{ProductID: "product-b", Name: "Product B", Quantity: 1, UnitPriceSnapshot: d("9.90")},
		},
	}
}

func openSession() *payment.Session {
	return &payment.Session{
		ID:          "cs_test_1",
		URL:         "https://checkout.stripe.com/c/pay/cs_test_1",
		AmountTotal: 4290,
		Currency:    "brl",
		Status:      payment.SessionStatusOpen,
	}
}

// --- CreateOrder ---

func TestService_CreateOrder(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		ctx := buyerCtx("user-1")

		var stored *Order
		repo.On("CreateOrder", ctx, mock.AnythingOfType("*order.Order")).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*Order) }).
			Return(nil)
		gw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req payment.CheckoutRequest) bool {
			return req.IdempotencyKey == CheckoutIdempotencyKey(stored.ID) &&
				req.OrderID == stored.ID.String() &&
				req.UserID == "user-1" &&
				req.Currency == "brl" &&
				req.AmountTotal() == 4290
		})).Return(openSession(), nil).Once()
		repo.On("CreateCheckoutSession", ctx, mock.MatchedBy(func(cs *CheckoutSession) bool {
			return cs.OrderID == stored.ID &&
				cs.ExternalSessionID == "cs_test_1" &&
				cs.AmountAuthorized.Equal(d("42.90")) &&
				cs.Status == CheckoutSessionStatusOpen
		})).Return(nil)

		res, err := svc.CreateOrder(ctx, sampleCart())
		require.NoError(t, err)

		require.NotNil(t, stored)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, "user-1", stored.UserID)
		assert.True(t, stored.SubtotalPrice.Equal(d("39.90")))
		assert.True(t, stored.TotalPrice.Equal(d("42.90")))
		assert.Len(t, stored.Lines, 2)

		assert.Equal(t, stored.ID, res.OrderID)
		assert.Equal(t, "cs_test_1", res.SessionID)
		assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", res.RedirectURL)
		repo.AssertExpectations(t)
		gw.AssertExpectations(t)
	})

	t.Run("Anonymous", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))

		_, err := svc.CreateOrder(context.Background(), sampleCart())
		assert.True(t, apperr.Is(err, apperr.KindAuth))
		repo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("InvalidCart", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		cart := sampleCart()
		cart.Lines[0].Quantity = 0

		_, err := svc.CreateOrder(buyerCtx("user-1"), cart)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
		repo.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("StoreFails", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		repo.On("CreateOrder", mock.Anything, mock.Anything).Return(errors.New("db down"))

		_, err := svc.CreateOrder(buyerCtx("user-1"), sampleCart())
		assert.True(t, apperr.Is(err, apperr.KindPersistence))
		gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("TransientGatewayFailureRetriesWithSameKey", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)

		var keys []string
		repo.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)
		gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				keys = append(keys, args.Get(1).(payment.CheckoutRequest).IdempotencyKey)
			}).
			Return(nil, apperr.Gateway("create checkout session", errors.New("502"))).Once()
		gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				keys = append(keys, args.Get(1).(payment.CheckoutRequest).IdempotencyKey)
			}).
			Return(openSession(), nil).Once()
		repo.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(nil)

		res, err := svc.CreateOrder(buyerCtx("user-1"), sampleCart())
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, keys[0], keys[1])
		assert.Equal(t, CheckoutIdempotencyKey(res.OrderID), keys[0])
	})

	t.Run("GatewayDownLeavesOrderPending", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)

		var stored *Order
		repo.On("CreateOrder", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { stored = args.Get(1).(*Order) }).
			Return(nil)
		gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, apperr.Timeout("create checkout session", context.DeadlineExceeded))

		_, err := svc.CreateOrder(buyerCtx("user-1"), sampleCart())
		require.Error(t, err)

		var ce *CheckoutError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, stored.ID, ce.OrderID)
		assert.True(t, apperr.Is(err, apperr.KindTimeout))
		gw.AssertNumberOfCalls(t, "CreateCheckoutSession", 3)
		repo.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("PermanentGatewayFailureIsNotRetried", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)

		repo.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)
		gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, apperr.Validation("create checkout session", "bad currency"))

		_, err := svc.CreateOrder(buyerCtx("user-1"), sampleCart())
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		gw.AssertNumberOfCalls(t, "CreateCheckoutSession", 1)
	})
}

// --- StartCheckout ---

func TestService_StartCheckout(t *testing.T) {
	items := []DisplayItem{
		{Name: "Product A", Price: d("15.00"), Quantity: 2},
		{Name: "Product B", Price: d("9.90"), Quantity: 1},
	}

	t.Run("OpensItemizedSession", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		ctx := buyerCtx("user-1")
		o := pendingOrder("user-1")

		repo.On("GetOrder", ctx, o.ID).Return(o, nil)
		repo.On("GetOpenCheckoutSession", ctx, o.ID).Return(nil, ErrSessionNotFound)
		gw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req payment.CheckoutRequest) bool {
			return len(req.Lines) == 3 &&
				req.Lines[0].Description == "House special" &&
				req.Lines[0].ImageURL == "https://cdn.test/a.png" &&
				req.Lines[2].Name == "Delivery fee" &&
				req.Lines[2].UnitAmount == 500 &&
				req.AmountTotal() == 4490 &&
				req.IdempotencyKey == CheckoutIdempotencyKey(o.ID)
		})).Return(openSession(), nil)
		repo.On("CreateCheckoutSession", ctx, mock.Anything).Return(nil)

		res, err := svc.StartCheckout(ctx, o.ID, items)
		require.NoError(t, err)
		assert.Equal(t, "cs_test_1", res.SessionID)
		gw.AssertExpectations(t)
	})

	t.Run("ClientItemsDoNotShapeTheRequest", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		svc.opts.SessionTTL = time.Hour
		ctx := buyerCtx("user-1")
		o := pendingOrder("user-1")

		renamed := []DisplayItem{
			{Name: "Renamed", Description: "other text", Price: d("15.00"), Quantity: 2},
			{Name: "Product B", Price: d("9.90"), Quantity: 1},
		}

		var req payment.CheckoutRequest
		repo.On("GetOrder", ctx, o.ID).Return(o, nil)
		repo.On("GetOpenCheckoutSession", ctx, o.ID).Return(nil, ErrSessionNotFound)
		gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { req = args.Get(1).(payment.CheckoutRequest) }).
			Return(openSession(), nil)
		repo.On("CreateCheckoutSession", ctx, mock.Anything).Return(nil)

		_, err := svc.StartCheckout(ctx, o.ID, renamed)
		require.NoError(t, err)

		want, err := gatewayLines(o)
		require.NoError(t, err)
		assert.Equal(t, want, req.Lines)
		assert.Equal(t, "Product A", req.Lines[0].Name)
		assert.True(t, req.ExpiresAt.Equal(o.CreatedAt.Add(time.Hour)))
	})

	t.Run("CheckoutWindowClosed", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		svc.opts.SessionTTL = time.Hour
		ctx := buyerCtx("user-1")
		o := pendingOrder("user-1")
		o.CreatedAt = fixedNow.Add(-45 * time.Minute)

		repo.On("GetOrder", ctx, o.ID).Return(o, nil)
		repo.On("GetOpenCheckoutSession", ctx, o.ID).Return(nil, ErrSessionNotFound)

		_, err := svc.StartCheckout(ctx, o.ID, items)
		assert.ErrorIs(t, err, ErrCheckoutClosed)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("ReusesOpenSession", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		ctx := buyerCtx("user-1")
		o := pendingOrder("user-1")

		repo.On("GetOrder", ctx, o.ID).Return(o, nil)
		repo.On("GetOpenCheckoutSession", ctx, o.ID).Return(&CheckoutSession{
			OrderID:           o.ID,
			ExternalSessionID: "cs_existing",
			URL:               "https://checkout.stripe.com/c/pay/cs_existing",
			Status:            CheckoutSessionStatusOpen,
		}, nil)

		res, err := svc.StartCheckout(ctx, o.ID, items)
		require.NoError(t, err)
		assert.Equal(t, "cs_existing", res.SessionID)
		gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("ConcurrentStoreReturnsWinner", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		ctx := buyerCtx("user-1")
		o := pendingOrder("user-1")

		repo.On("GetOrder", ctx, o.ID).Return(o, nil)
		repo.On("GetOpenCheckoutSession", ctx, o.ID).Return(nil, ErrSessionNotFound).Once()
		gw.On("CreateCheckoutSession", mock.Anything, mock.Anything).Return(openSession(), nil)
		repo.On("CreateCheckoutSession", ctx, mock.Anything).Return(ErrSessionExists)
		repo.On("GetOpenCheckoutSession", ctx, o.ID).Return(&CheckoutSession{
			ExternalSessionID: "cs_test_1",
			URL:               "https://checkout.stripe.com/c/pay/cs_test_1",
		}, nil).Once()

		res, err := svc.StartCheckout(ctx, o.ID, items)
		require.NoError(t, err)
		assert.Equal(t, "cs_test_1", res.SessionID)
	})

	t.Run("NotOwner", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		ctx := buyerCtx("user-2")
		o := pendingOrder("user-1")
		repo.On("GetOrder", ctx, o.ID).Return(o, nil)

		_, err := svc.StartCheckout(ctx, o.ID, items)
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("NotPending", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		ctx := buyerCtx("user-1")
		o := pendingOrder("user-1")
		o.Status = StatusConfirmed
		repo.On("GetOrder", ctx, o.ID).Return(o, nil)

		_, err := svc.StartCheckout(ctx, o.ID, items)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})

	t.Run("UnknownOrder", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		ctx := buyerCtx("user-1")
		id := uuid.New()
		repo.On("GetOrder", ctx, id).Return(nil, ErrOrderNotFound)

		_, err := svc.StartCheckout(ctx, id, items)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("ItemsMismatch", func(t *testing.T) {
		repo := new(MockRepository)
		gw := new(MockGateway)
		svc := newTestService(repo, gw)
		ctx := buyerCtx("user-1")
		o := pendingOrder("user-1")
		repo.On("GetOrder", ctx, o.ID).Return(o, nil)
		repo.On("GetOpenCheckoutSession", ctx, o.ID).Return(nil, ErrSessionNotFound)

		cheap := []DisplayItem{{Name: "Product A", Price: d("0.01"), Quantity: 1}}
		_, err := svc.StartCheckout(ctx, o.ID, cheap)
		assert.ErrorIs(t, err, ErrItemsMismatch)
		gw.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("InputValidation", func(t *testing.T) {
		svc := newTestService(new(MockRepository), new(MockGateway))
		ctx := buyerCtx("user-1")

		_, err := svc.StartCheckout(ctx, uuid.Nil, items)
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		_, err = svc.StartCheckout(ctx, uuid.New(), nil)
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		_, err = svc.StartCheckout(ctx, uuid.New(), []DisplayItem{{Name: "x", Price: d("1"), Quantity: 0}})
		assert.ErrorIs(t, err, ErrInvalidQuantity)

		_, err = svc.StartCheckout(ctx, uuid.New(), []DisplayItem{{Name: "x", Price: d("-1"), Quantity: 1}})
		assert.ErrorIs(t, err, ErrInvalidPrice)

		_, err = svc.StartCheckout(context.Background(), uuid.New(), items)
		assert.True(t, apperr.Is(err, apperr.KindAuth))
	})
}

// --- Reads ---

func TestService_GetOrder(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, new(MockGateway))
	o := pendingOrder("user-1")
	repo.On("GetOrder", mock.Anything, o.ID).Return(o, nil)

	got, err := svc.GetOrder(buyerCtx("user-1"), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.GetOrder(buyerCtx("user-2"), o.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	admin := auth.WithUser(context.Background(), auth.User{ID: "admin-1", Role: "ADMIN"})
	_, err = svc.GetOrder(admin, o.ID)
	assert.NoError(t, err)
}

func TestService_ListOrders(t *testing.T) {
	t.Run("CallerOnly", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		ctx := buyerCtx("user-1")
		newer, older := pendingOrder("user-1"), pendingOrder("user-1")
		repo.On("ListOrdersByUser", ctx, "user-1").Return([]*Order{newer, older}, nil)

		orders, err := svc.ListOrders(ctx)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, newer.ID, orders[0].ID)
		repo.AssertExpectations(t)
	})

	t.Run("Anonymous", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))

		_, err := svc.ListOrders(context.Background())
		assert.True(t, apperr.Is(err, apperr.KindAuth))
		repo.AssertNotCalled(t, "ListOrdersByUser", mock.Anything, mock.Anything)
	})

	t.Run("StoreFails", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		repo.On("ListOrdersByUser", mock.Anything, "user-1").Return(nil, errors.New("db down"))

		_, err := svc.ListOrders(buyerCtx("user-1"))
		assert.True(t, apperr.Is(err, apperr.KindPersistence))
	})
}

func TestService_GetCheckoutSummary(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		gw := new(MockGateway)
		repo := new(MockRepository)
		svc := newTestService(repo, gw)
		gw.On("RetrieveSession", mock.Anything, "cs_test_1").Return(&payment.Session{
			ID:                "cs_test_1",
			ClientReferenceID: "order-1",
			AmountTotal:       4290,
			Currency:          "brl",
			Status:            payment.SessionStatusComplete,
			PaymentStatus:     payment.PaymentStatusPaid,
		}, nil)

		sum, err := svc.GetCheckoutSummary(context.Background(), "cs_test_1")
		require.NoError(t, err)
		assert.Equal(t, "order-1", sum.OrderID)
		assert.True(t, sum.AmountTotal.Equal(d("42.90")))
		assert.Equal(t, "paid", sum.PaymentStatus)
		assert.Equal(t, "complete", sum.SessionStatus)
		repo.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingID", func(t *testing.T) {
		svc := newTestService(new(MockRepository), new(MockGateway))
		_, err := svc.GetCheckoutSummary(context.Background(), "")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("GatewayDown", func(t *testing.T) {
		gw := new(MockGateway)
		svc := newTestService(new(MockRepository), gw)
		gw.On("RetrieveSession", mock.Anything, "cs_test_1").
			Return(nil, apperr.Gateway("retrieve checkout session", errors.New("503")))

		_, err := svc.GetCheckoutSummary(context.Background(), "cs_test_1")
		assert.True(t, apperr.Is(err, apperr.KindGateway))
	})
}

// --- ApplyTransition ---

func TestService_ApplyTransition(t *testing.T) {
	id := uuid.New()

	t.Run("Applied", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		repo.On("TransitionStatus", mock.Anything, id, EventPaymentExpired, "cs_1").
			Return(&TransitionResult{From: StatusPending, To: StatusCancelled, Applied: true}, nil)

		res, err := svc.ApplyTransition(context.Background(), id, EventPaymentExpired, "cs_1")
		require.NoError(t, err)
		assert.True(t, res.Applied)
	})

	t.Run("UnknownEvent", func(t *testing.T) {
		svc := newTestService(new(MockRepository), new(MockGateway))
		_, err := svc.ApplyTransition(context.Background(), id, Event("refund"), "")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("MissingOrder", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		repo.On("TransitionStatus", mock.Anything, id, EventPaymentCompleted, "").
			Return(nil, ErrOrderNotFound)

		_, err := svc.ApplyTransition(context.Background(), id, EventPaymentCompleted, "")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("StoreFails", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, new(MockGateway))
		repo.On("TransitionStatus", mock.Anything, id, EventPaymentCompleted, "").
			Return(nil, errors.New("db down"))

		_, err := svc.ApplyTransition(context.Background(), id, EventPaymentCompleted, "")
		assert.True(t, apperr.Retryable(err))
	})
}

// --- Line mapping ---

func TestGatewayLines(t *testing.T) {
	t.Run("ItemizedFromStoredLines", func(t *testing.T) {
		o := pendingOrder("user-1")

		lines, err := gatewayLines(o)
		require.NoError(t, err)
		require.Len(t, lines, 3)
		assert.Equal(t, payment.LineItem{
			Name:        "Product A",
			Description: "House special",
			ImageURL:    "https://cdn.test/a.png",
			UnitAmount:  1500,
			Quantity:    2,
		}, lines[0])
		assert.Equal(t, "Delivery fee", lines[2].Name)
	})

	t.Run("DiscountsConsolidate", func(t *testing.T) {
		o := pendingOrder("user-1")
		o.TotalDiscounts = d("2.00")
		o.TotalPrice = d("42.90")

		lines, err := gatewayLines(o)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, int64(4290), lines[0].UnitAmount)
		assert.Equal(t, int64(1), lines[0].Quantity)
		assert.Equal(t, "2 item(s), delivery and discounts included", lines[0].Description)
	})

	t.Run("NoFeeNoDeliveryLine", func(t *testing.T) {
		o := pendingOrder("user-1")
		o.DeliveryFee = d("0")
		o.TotalPrice = d("39.90")

		lines, err := gatewayLines(o)
		require.NoError(t, err)
		assert.Len(t, lines, 2)
	})

	t.Run("Mismatch", func(t *testing.T) {
		o := pendingOrder("user-1")
		o.Lines = o.Lines[:1]
		_, err := gatewayLines(o)
		assert.ErrorIs(t, err, ErrItemsMismatch)
	})
}
