package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/heimdall/internal"
	"github.com/dukerupert/heimdall/internal/billing"
	"github.com/dukerupert/heimdall/internal/dbclient"
	"github.com/dukerupert/heimdall/internal/dedup"
	"github.com/dukerupert/heimdall/internal/handler"
	"github.com/dukerupert/heimdall/internal/middleware"
	"github.com/dukerupert/heimdall/internal/notify"
	"github.com/dukerupert/heimdall/internal/router"
	"github.com/dukerupert/heimdall/internal/service"
	"github.com/dukerupert/heimdall/internal/telemetry"
)

func run() error {
	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Prometheus metrics
	telemetry.InitBusinessMetrics("heimdall")
	httpMetrics := middleware.NewMetrics("heimdall")

	// Initialize Sentry error tracking (no-op without a DSN)
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.DSN != "",
		Environment: cfg.Env,
		Release:     cfg.Sentry.Release,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	defer sentryCleanup()

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	stripeConfig := billing.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		MaxRetries:    3,
		TimeoutSeconds: 30,
	}
	billingProvider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	// Select the webhook verifier. The insecure variant skips signature
	// checks and is only reachable outside prod (NewConfig enforces this).
	var verifier billing.WebhookVerifier = billing.NewStripeVerifier(cfg.Stripe.WebhookSecret)
	if cfg.Stripe.AllowUnverifiedWebhooks {
		logger.Warn("webhook signature verification is DISABLED; do not use outside development")
		verifier = billing.InsecureVerifier{}
	}

	// Initialize downstream service clients
	db := dbclient.NewClient(cfg.Database.BaseURL, cfg.Database.Timeout, logger)
	notifier := notify.NewDispatcher(cfg.Notification.BaseURL, cfg.Notification.Timeout, notify.DefaultRetryPolicy, logger)

	// Initialize the webhook dedup store: Redis when configured, otherwise
	// process-local memory
	var events dedup.Store
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		events = dedup.NewRedisStore(redis.NewClient(opts), cfg.Redis.DedupWindow)
		logger.Info("Using Redis webhook dedup store")
	} else {
		events = dedup.NewMemoryStore(cfg.Redis.DedupWindow)
		logger.Info("Using in-memory webhook dedup store")
	}

	// Initialize services
	processor := service.NewWebhookProcessor(billingProvider, db, notifier, events, logger)
	subscriptions := service.NewSubscriptionService(billingProvider, service.PlanPrices{
		MonthlyPriceID: cfg.Stripe.MonthlyPriceID,
		YearlyPriceID:  cfg.Stripe.YearlyPriceID,
	}, cfg.ClientURL, logger)

	// Initialize handlers
	webhookHandler := handler.NewWebhookHandler(verifier, processor)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptions)

	// Create router and register routes
	r := router.New(
		router.Recovery(logger),
		telemetry.SentryMiddleware(),
		middleware.RequestID,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
		httpMetrics.Middleware,
		router.CORS(cfg.ClientURL),
	)

	r.Post("/webhook", webhookHandler.HandleWebhook)
	r.Post("/create-subscription", subscriptionHandler.HandleCreateSubscription)
	r.Get("/subscription/{id}", subscriptionHandler.HandleGetSubscription)
	r.Post("/cancel-subscription", subscriptionHandler.HandleCancelSubscription)
	r.Get("/plans", subscriptionHandler.HandleListPlans)
	r.Get("/health", handler.HandleHealth)
	r.Handle(http.MethodGet, "/metrics", httpMetrics.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting payment server", "address", addr, "env", cfg.Env)

	if err := http.ListenAndServe(addr, r); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
