/**
 * @description
 * Standalone entry point for the recovery sweep. Runs one pass and
 * exits, for environments that schedule with an external cron instead
 * of the API process's embedded scheduler.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/neyroastro/insight-service/internal/app"
	"github.com/neyroastro/insight-service/internal/config"
	"github.com/neyroastro/insight-service/internal/store"
	"github.com/neyroastro/insight-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "insight-sweeper")
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

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	producer, err := rabbitmq.NewQueueProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	payments := store.NewPaymentRepository(pool)
	predictions := store.NewPredictionRepository(pool)
	users := store.NewUserRepository(pool)
	dispatcher := app.NewDispatcher(producer, logger)

	app.NewSweep(payments, predictions, users, dispatcher, cfg.SweepBatchLimit, logger).Run()
}
