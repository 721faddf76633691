// cmd/main.go is the application entry point.
// It wires together all layers behind the serve, migrate and sweep commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/clock"
	"github.com/Shivanand-hulikatti/event-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-registration/internal/database"
	"github.com/Shivanand-hulikatti/event-registration/internal/handler"
	"github.com/Shivanand-hulikatti/event-registration/internal/lock"
	"github.com/Shivanand-hulikatti/event-registration/internal/logger"
	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/payment"
	"github.com/Shivanand-hulikatti/event-registration/internal/repository"
	"github.com/Shivanand-hulikatti/event-registration/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "event-registration",
		Short:        "Event registration with capacity limits and payment reconciliation",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(cfg config.Config, log *zap.Logger) error {
				return run(cfg, log)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(cfg config.Config, log *zap.Logger) error {
				if err := database.Migrate(cfg.Database.MigrateURL()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				log.Info("migrations applied")
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(cfg config.Config, log *zap.Logger) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				pool, err := database.NewPool(ctx, cfg.Database, log)
				if err != nil {
					return fmt.Errorf("database: %w", err)
				}
				defer pool.Close()

				gateway := newGateway(cfg, log, nil)
				res, err := newSweeper(cfg, pool, gateway, nil, log, nil).Sweep(ctx)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				log.Info("sweep finished", sweepFields(res)...)
				return nil
			})
		},
	}
}

func sweepFields(res service.SweepResult) []zap.Field {
	return []zap.Field{
		zap.Int("expired_awaiting_payment", res.ExpiredAwaiting),
		zap.Int("expired_pending", res.ExpiredPending),
		zap.Int64("cleared_idempotency_keys", res.ClearedKeys),
	}
}

// withRuntime loads configuration and the logger, then runs fn.
func withRuntime(fn func(cfg config.Config, log *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := fn(cfg, log); err != nil {
		log.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

// newGateway returns nil when no provider key is configured.
func newGateway(cfg config.Config, log *zap.Logger, m *metrics.Metrics) payment.Gateway {
	if cfg.Payment.StripeSecretKey == "" {
		return nil
	}
	return payment.NewRetryingGateway(
		payment.NewStripeGateway(payment.StripeConfig{
			SecretKey: cfg.Payment.StripeSecretKey,
			BaseURL:   cfg.Payment.StripeBaseURL,
			Timeout:   cfg.Payment.RequestTimeout,
		}),
		payment.RetryPolicy{
			MaxAttempts:     cfg.Payment.MaxAttempts,
			InitialInterval: cfg.Payment.InitialBackoff,
			MaxElapsed:      cfg.Payment.MaxElapsed,
		},
		log, m,
	)
}

func newSweeper(cfg config.Config, pool *pgxpool.Pool, gateway payment.Gateway, locker service.Locker, log *zap.Logger, m *metrics.Metrics) *service.Sweeper {
	return service.NewSweeper(
		repository.NewTxManager(pool),
		repository.NewLedgerRepository(pool),
		repository.NewRegistrationRepository(pool),
		gateway, locker,
		service.SweepConfig{
			Interval:                cfg.Sweep.Interval,
			BatchSize:               cfg.Sweep.BatchSize,
			CheckoutTTL:             cfg.Sweep.CheckoutTTL,
			PendingTimeout:          cfg.Sweep.PendingTimeout,
			IdempotencyKeyRetention: cfg.Sweep.IdempotencyKeyRetention,
			LockTTL:                 cfg.Sweep.LockTTL,
		},
		clock.NewSystem(), log, m,
	)
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL and migrate ──────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	log.Info("connected to PostgreSQL")

	if err := database.Migrate(cfg.Database.MigrateURL()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("migrations applied")

	// ── 2. Metrics ────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// ── 3. Payment provider ───────────────────────────────────────────────
	gateway := newGateway(cfg, log, m)
	if gateway == nil {
		log.Warn("STRIPE_SECRET_KEY not set, priced events cannot be registered for")
	}
	verifier := payment.NewStripeWebhook(cfg.Payment.StripeWebhookSecret, cfg.Payment.SignatureTolerance)

	// ── 4. Wire up layers ────────────────────────────────────────────────
	clk := clock.NewSystem()
	tx := repository.NewTxManager(pool)
	eventRepo := repository.NewEventRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool)
	ledger := repository.NewLedgerRepository(pool)
	webhookRepo := repository.NewWebhookRepository(pool)

	registrations := service.NewRegistrationService(tx, eventRepo, ledger, regRepo, gateway, clk, log, m)
	reconciler := service.NewReconciler(tx, ledger, regRepo, webhookRepo, clk, log, m)
	queries := service.NewQueryService(eventRepo, regRepo)

	// ── 5. Expiry sweep ──────────────────────────────────────────────────
	var locker service.Locker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()
		locker = lock.NewRedis(client)
		log.Info("sweep leader lock enabled")
	}

	sweeper := newSweeper(cfg, pool, gateway, locker, log, m)

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	// ── 6. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterConfig{
		Events:         handler.NewEventHandler(registrations, queries, log),
		Webhooks:       handler.NewWebhookHandler(verifier, reconciler, log),
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Log:            log,
	})

	// ── 7. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-sweepDone
			return fmt.Errorf("server: %w", err)
		}
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	<-sweepDone
	log.Info("server stopped")
	return nil
}
