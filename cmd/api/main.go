// Package main is the entry point for the PayBridge API server.
//
// It loads configuration, connects the Postgres pool and the Stripe client,
// assembles the billing services, mounts the HTTP routes through the core
// chassis (middleware, routing, health checks), and starts listening.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paybridge/internal/api/handlers"
	"paybridge/internal/billing"
	"paybridge/internal/config"
	"paybridge/internal/core"
	"paybridge/internal/db"
	"paybridge/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// For local development (APP_ENV=local), SSM resolution is bypassed and
	// passing a provider is unnecessary. For deployed environments the loader
	// resolves *_SSM_PARAM bindings through the SSM provider.
	var provider config.SecretProvider
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("paybridge API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	// Database pool. NewPool pings before returning so misconfiguration
	// fails at startup rather than on the first request.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Payment processor client.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: cfg.Billing.RequestTimeout},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)

	// Repositories.
	planRepo := db.NewPlanRepo(pool, logger)
	paymentRepo := db.NewPaymentRepo(pool, logger)
	ledgerRepo := db.NewLedgerRepo(pool, logger)
	subscriptionRepo := db.NewSubscriptionRepo(pool, logger)

	// Billing services.
	catalog := billing.NewPlanCatalog(planRepo, cfg.Billing.DefaultTrialDays, logger)
	pricing := billing.NewPricingCalculator(cfg.Pricing, stripeClient, logger)
	intentGateway := billing.NewPaymentIntentGateway(stripeClient, logger)
	recorder := billing.NewPaymentRecorder(stripeClient, paymentRepo, ledgerRepo, logger)
	refunds := billing.NewRefundProcessor(stripeClient, logger)
	orchestrator := billing.NewSubscriptionOrchestrator(
		catalog,
		pricing,
		stripeClient,
		stripeClient,
		stripeClient,
		subscriptionRepo,
		logger,
	)

	// Build the server chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		&core.DatabaseProbe{Pool: pool},
	}

	// HTTP handlers.
	paymentsHandler := handlers.NewPaymentsHandler(
		intentGateway,
		recorder,
		refunds,
		paymentRepo,
		srv.Validator,
		logger,
	)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(
		orchestrator,
		catalog,
		srv.Validator,
		logger,
	)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		recorder,
		orchestrator,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		paymentsHandler.RegisterRoutes,
		subscriptionsHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
