/**
 * @description
 * Entry point for an analysis worker. One process serves exactly one
 * planet's queue; the planet comes from the -planet flag or the
 * WORKER_PLANET environment variable, so the same binary is deployed
 * once per paid planet.
 */
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/neyroastro/insight-service/internal/app"
	"github.com/neyroastro/insight-service/internal/config"
	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
	"github.com/neyroastro/insight-service/pkg/llmclient"
	"github.com/neyroastro/insight-service/pkg/rabbitmq"
	"github.com/neyroastro/insight-service/pkg/telegramclient"
)

func main() {
	planetFlag := flag.String("planet", "", "planet queue to serve (sun, mercury, venus, mars)")
	flag.Parse()

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("cannot load config", "error", err)
		os.Exit(1)
	}

	planetName := *planetFlag
	if planetName == "" {
		planetName = cfg.WorkerPlanet
	}
	planet, ok := domain.ParsePlanet(planetName)
	if !ok {
		slog.Error("unknown planet; set -planet or WORKER_PLANET", "planet", planetName)
		os.Exit(1)
	}
	desc, ok := domain.DescriptorFor(planet)
	if !ok {
		slog.Error("planet has no paid queue", "planet", planet)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).
		With("service", "insight-worker", "planet", desc.Planet)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("invalid DATABASE_URL", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = 5
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	predictions := store.NewPredictionRepository(pool)
	users := store.NewUserRepository(pool)
	generator := llmclient.NewClient(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel)
	notifier := telegramclient.NewClient(cfg.TelegramBotToken)

	worker := app.NewWorker(
		desc,
		predictions,
		store.NewPaymentRepository(pool),
		users,
		generator,
		notifier,
		logger,
	)
	recommendations := app.NewRecommendationsWorker(desc, predictions, users, generator, notifier, logger)
	questions := app.NewQuestionWorker(predictions, users, generator, notifier, logger)

	// Each planet process also serves that planet's recommendations
	// queue and competes with its siblings on the shared questions
	// queue.
	consumes := []struct {
		queue   string
		handler func([]byte) bool
	}{
		{desc.QueueName, worker.HandleMessage},
		{desc.RecommendationsQueue, recommendations.HandleMessage},
		{domain.QuestionsQueueName, questions.HandleMessage},
	}
	for _, c := range consumes {
		if err := consumer.Consume(c.queue, c.handler); err != nil {
			logger.Error("failed to start consuming", "queue", c.queue, "error", err)
			os.Exit(1)
		}
		logger.Info("worker consuming", "queue", c.queue)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("worker shutting down")
}
