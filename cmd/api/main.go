/**
 * @description
 * Entry point for the insight-service HTTP API: purchase recording,
 * payment provider webhooks, access checks, bundle progression and the
 * operator surface. Also hosts the scheduled recovery sweep so failed
 * jobs are retried without a separate deployment.
 */
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/neyroastro/insight-service/internal/api"
	"github.com/neyroastro/insight-service/internal/app"
	"github.com/neyroastro/insight-service/internal/config"
	"github.com/neyroastro/insight-service/internal/store"
	"github.com/neyroastro/insight-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "insight-api")
	slog.SetDefault(logger)

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("cannot load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := newDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	producer, err := rabbitmq.NewQueueProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	logger.Info("RabbitMQ producer connected")

	payments := store.NewPaymentRepository(pool)
	predictions := store.NewPredictionRepository(pool)
	users := store.NewUserRepository(pool)

	dispatcher := app.NewDispatcher(producer, logger)
	sequencer := app.NewSequencer(payments, predictions, users, dispatcher, logger)
	paymentService := app.NewPaymentService(payments, users, predictions, sequencer, dispatcher, logger)
	accessService := app.NewAccessService(payments, users, logger)
	followUps := app.NewFollowUpService(predictions, users, dispatcher, logger)
	sweep := app.NewSweep(payments, predictions, users, dispatcher, cfg.SweepBatchLimit, logger)

	var limiter app.ContinueLimiter = app.NoopContinueLimiter{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		limiter = app.NewRedisContinueLimiter(
			redis.NewClient(opts),
			int64(cfg.ContinueRateLimit),
			time.Duration(cfg.ContinueRateWindowMS)*time.Millisecond,
		)
	} else {
		logger.Warn("REDIS_URL not set; bundle continue rate limiting disabled")
	}

	scheduler, err := app.NewScheduler(cfg.SweepSchedule, sweep, logger)
	if err != nil {
		logger.Error("invalid sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(
		paymentService, accessService, sequencer, followUps, sweep,
		payments, users, limiter, cfg.PaymentWebhookSecret, logger,
	)
	router := api.NewRouter(handler, cfg.InternalAPIKey, cfg.OperatorJWTSecret)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server gracefully stopped")
}

func newDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	// Plays well with transaction-mode poolers (no prepared statements).
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
