package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"

	"github.com/dukerupert/stripetax/internal"
	"github.com/dukerupert/stripetax/internal/billing"
	"github.com/dukerupert/stripetax/internal/cache"
	"github.com/dukerupert/stripetax/internal/handler/webhook"
	"github.com/dukerupert/stripetax/internal/middleware"
	"github.com/dukerupert/stripetax/internal/postgres"
	"github.com/dukerupert/stripetax/internal/router"
	"github.com/dukerupert/stripetax/internal/routes"
	"github.com/dukerupert/stripetax/internal/subscriber"
	"github.com/dukerupert/stripetax/internal/tax"
	"github.com/dukerupert/stripetax/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.Enabled,
		Environment: cfg.Sentry.Environment,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer sentryCleanup()

	// Register business metrics
	telemetry.Init("stripetax")

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Initialize stores
	cartStore := postgres.NewCartStore(pool)
	orderStore := postgres.NewOrderStore(pool)

	// Initialize Redis calculation cache
	logger.Info("Connecting to Redis...")
	redisClient, err := cache.Connect(cfg.RedisUrl)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	calculationCache := cache.NewRedisCache(redisClient)
	logger.Info("Redis connection established")

	// Initialize Stripe tax provider
	logger.Info("Initializing Stripe tax provider...")
	provider, err := billing.NewStripeProvider(cfg.Stripe.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe tax provider initialized")

	// Initialize tax orchestration service
	taxService := tax.NewService(
		provider,
		cartStore,
		orderStore,
		calculationCache,
		time.Duration(cfg.Tax.CacheTTLSeconds)*time.Second,
		logger,
	)

	// Connect to NATS and start the refund subscriber
	logger.Info("Connecting to NATS...", "url", cfg.NatsUrl)
	natsConn, err := nats.Connect(cfg.NatsUrl,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}
	defer natsConn.Close()

	refundSubscriber, err := subscriber.New(natsConn, taxService, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize refund subscriber: %w", err)
	}
	if err := refundSubscriber.Start(); err != nil {
		return fmt.Errorf("failed to start refund subscriber: %w", err)
	}
	defer refundSubscriber.Stop()
	logger.Info("NATS refund subscriber started")

	// Build webhook handler
	stripeWebhookHandler, err := webhook.NewStripeHandler(provider, taxService, webhook.StripeConfig{
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize webhook handler: %w", err)
	}

	// Initialize Prometheus HTTP metrics
	metrics := middleware.NewMetrics("stripetax")

	// Create router and register routes
	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		StripeHandler: stripeWebhookHandler.HandleWebhook,
	})
	routes.RegisterSystemRoutes(r, routes.SystemDeps{
		MetricsHandler: metrics.Handler(),
		HealthCheck: func(w http.ResponseWriter, req *http.Request) {
			if err := pool.Ping(req.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		},
	})

	// Start server with graceful shutdown
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
