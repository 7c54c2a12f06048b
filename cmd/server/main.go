package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fsw-food-be/internal/auth"
	"fsw-food-be/internal/checkout"
	"fsw-food-be/internal/config"
	"fsw-food-be/internal/db"
	"fsw-food-be/internal/logger"
	"fsw-food-be/internal/middleware"
	"fsw-food-be/internal/order"
	"fsw-food-be/internal/payment"
	"fsw-food-be/internal/payment/webhook"
	"fsw-food-be/internal/reconcile"
	"fsw-food-be/internal/telemetry"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "fsw-food-be"

const (
	webhookPath  = "/api/stripe/webhook"
	checkoutPath = "/api/checkout"

	shutdownTimeout = 15 * time.Second
)

var initDBFunc = func(cfg config.DBConfig) *sql.DB {
	return db.InitDB(cfg)
}

var startServerFunc = serve

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		return errors.Wrap(err, "setup telemetry")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.L().Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	database := initDBFunc(cfg.DB)
	defer database.Close()

	a, err := newApp(cfg, database)
	if err != nil {
		return err
	}

	go a.sweeper.Run(ctx)
	go a.limiter.Cleanup(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.L().Info("server running", zap.String("addr", srv.Addr), zap.String("env", cfg.AppEnv))
	return startServerFunc(ctx, srv)
}

// app holds the wired server and its background workers.
type app struct {
	handler http.Handler
	sweeper *reconcile.Sweeper
	limiter *middleware.Limiter
}

func newApp(cfg *config.Config, database *sql.DB) (*app, error) {
	gatewayClient := &http.Client{
		Timeout:   cfg.Checkout.GatewayTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	gateway := payment.NewStripeGateway(cfg.Stripe, gatewayClient)

	orderRepo := order.NewRepository(database)
	ledger := payment.NewRepository(database)
	orderSvc := order.NewService(orderRepo, gateway, order.OptionsFromConfig(cfg))

	processor, err := webhook.NewProcessor(gateway, orderRepo, ledger, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook processor")
	}

	limiter := middleware.NewLimiter([]string{checkoutPath}, []string{webhookPath})

	mux := setupRouter(checkout.NewHandler(orderSvc), webhook.NewWebhookHandler(processor).WebhookHandler)
	handler := chain(mux,
		logger.RequestIDMiddleware,
		logger.LoggingMiddleware,
		middleware.Recover,
		middleware.CORS(cfg.PublicURL),
		auth.Middleware([]byte(cfg.Auth.SecretKey)),
		limiter.Middleware,
	)

	return &app{
		handler: otelhttp.NewHandler(handler, serviceName),
		sweeper: reconcile.NewSweeper(orderRepo, ledger, orderSvc, gateway, cfg.Sweep, cfg.Checkout.GatewayTimeout),
		limiter: limiter,
	}, nil
}

func setupRouter(checkoutHandler *checkout.Handler, webhookHandler http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST "+webhookPath, webhookHandler)
	checkoutHandler.Register(mux)

	return mux
}

// chain applies mws so the first one runs first.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// serve runs srv until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown")
	}
	return <-errCh
}
