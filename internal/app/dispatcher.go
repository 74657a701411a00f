package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
)

// QueuePublisher is the broker surface the dispatcher needs.
type QueuePublisher interface {
	PublishToQueue(ctx context.Context, queue string, body interface{}) error
}

// Dispatcher publishes one generation job per (prediction, planet) onto
// the planet's durable queue.
type Dispatcher struct {
	publisher QueuePublisher
	logger    *slog.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(publisher QueuePublisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, logger: logger}
}

// Enqueue publishes a job message with persistent delivery. Returns
// false instead of an error on broker trouble: the prediction row
// already written is kept so a later sweep or manual retry can pick the
// work up again.
func (d *Dispatcher) Enqueue(ctx context.Context, planet domain.Planet, predictionID uuid.UUID, telegramID int64, profileID *uuid.UUID) bool {
	desc, ok := domain.DescriptorFor(planet)
	if !ok {
		d.logger.Error("no queue descriptor for planet", "planet", planet)
		return false
	}

	job := domain.AnalysisJob{
		PredictionID: predictionID,
		TelegramID:   telegramID,
		ProfileID:    profileID,
		EnqueuedAt:   time.Now().UTC(),
	}

	if err := d.publisher.PublishToQueue(ctx, desc.QueueName, job); err != nil {
		d.logger.Error("failed to enqueue analysis job",
			"planet", planet, "prediction_id", predictionID, "error", err)
		return false
	}

	d.logger.Info("enqueued analysis job",
		"planet", planet, "queue", desc.QueueName, "prediction_id", predictionID)
	return true
}

// EnqueueRecommendations publishes a follow-up recommendations request
// for a delivered analysis row.
func (d *Dispatcher) EnqueueRecommendations(ctx context.Context, planet domain.Planet, predictionID uuid.UUID, telegramID int64, profileID *uuid.UUID) bool {
	desc, ok := domain.DescriptorFor(planet)
	if !ok {
		d.logger.Error("no recommendations queue for planet", "planet", planet)
		return false
	}

	job := domain.RecommendationJob{
		PredictionID: predictionID,
		TelegramID:   telegramID,
		ProfileID:    profileID,
		EnqueuedAt:   time.Now().UTC(),
	}

	if err := d.publisher.PublishToQueue(ctx, desc.RecommendationsQueue, job); err != nil {
		d.logger.Error("failed to enqueue recommendations job",
			"planet", planet, "prediction_id", predictionID, "error", err)
		return false
	}

	d.logger.Info("enqueued recommendations job",
		"planet", planet, "queue", desc.RecommendationsQueue, "prediction_id", predictionID)
	return true
}

// EnqueueQuestion publishes one free-form question onto the shared
// questions queue.
func (d *Dispatcher) EnqueueQuestion(ctx context.Context, telegramID int64, profileID *uuid.UUID, question string) bool {
	job := domain.QuestionJob{
		TelegramID: telegramID,
		ProfileID:  profileID,
		Question:   question,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := d.publisher.PublishToQueue(ctx, domain.QuestionsQueueName, job); err != nil {
		d.logger.Error("failed to enqueue question job", "telegram_id", telegramID, "error", err)
		return false
	}

	d.logger.Info("enqueued question job", "queue", domain.QuestionsQueueName, "telegram_id", telegramID)
	return true
}
