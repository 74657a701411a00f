package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
	"github.com/neyroastro/insight-service/pkg/llmclient"
)

// RecommendationsStore is the prediction surface the recommendations
// worker needs.
type RecommendationsStore interface {
	GetPrediction(ctx context.Context, id uuid.UUID) (*domain.Prediction, error)
	SaveRecommendations(ctx context.Context, id uuid.UUID, content string) error
}

// RecommendationsWorker consumes one planet's recommendations queue:
// load the analysis row, generate recommendations built on it, persist
// them on the same row and notify the subject. The payment ledger is
// untouched; follow-ups ride on content already settled.
type RecommendationsWorker struct {
	desc        domain.PlanetDescriptor
	predictions RecommendationsStore
	directory   WorkerDirectory
	generator   Generator
	notifier    Notifier
	logger      *slog.Logger
}

// NewRecommendationsWorker creates a recommendations worker bound to
// one planet.
func NewRecommendationsWorker(
	desc domain.PlanetDescriptor,
	predictions RecommendationsStore,
	directory WorkerDirectory,
	generator Generator,
	notifier Notifier,
	logger *slog.Logger,
) *RecommendationsWorker {
	return &RecommendationsWorker{
		desc:        desc,
		predictions: predictions,
		directory:   directory,
		generator:   generator,
		notifier:    notifier,
		logger:      logger.With("planet", desc.Planet, "job", "recommendations"),
	}
}

// HandleMessage processes one recommendations request. Same
// acknowledgement contract as the analysis worker: handled messages are
// acked whether they succeeded or not, only infrastructure trouble a
// redelivery could fix nacks.
func (w *RecommendationsWorker) HandleMessage(body []byte) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing recommendations job", "panic", r)
			handled = true
		}
	}()

	var job domain.RecommendationJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Error("discarding malformed recommendations message", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	logger := w.logger.With("prediction_id", job.PredictionID, "telegram_id", job.TelegramID)
	logger.Info("processing recommendations job")

	pred, err := w.predictions.GetPrediction(ctx, job.PredictionID)
	if err != nil {
		if errors.Is(err, store.ErrPredictionNotFound) {
			logger.Error("prediction row missing; discarding job")
			return true
		}
		logger.Error("failed to load prediction; requeueing", "error", err)
		return false
	}

	analysis := pred.AnalysisFor(w.desc.Planet)
	if analysis == nil {
		// Nothing to build on; retrying cannot fix it.
		logger.Error("prediction has no analysis for this planet; discarding job")
		w.notifyFailure(ctx, logger, job.TelegramID)
		return true
	}

	user, err := w.directory.GetUserByTelegramID(ctx, job.TelegramID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			logger.Error("user not found; discarding job")
			return true
		}
		logger.Error("failed to load user; requeueing", "error", err)
		return false
	}

	name, gender := user.DisplayName(), user.Gender
	if job.ProfileID != nil {
		profile, err := w.directory.GetProfile(ctx, *job.ProfileID)
		if err != nil {
			if errors.Is(err, store.ErrProfileNotFound) {
				logger.Error("profile not found; discarding job", "profile_id", *job.ProfileID)
				w.notifyFailure(ctx, logger, job.TelegramID)
				return true
			}
			logger.Error("failed to load profile; requeueing", "error", err)
			return false
		}
		name, gender = profile.DisplayName, profile.Gender
	}

	gen, err := w.generator.Generate(ctx, llmclient.GenerationRequest{
		Prompt: BuildRecommendationsPrompt(w.desc.Planet, *analysis, name, string(gender)),
	})
	if err != nil {
		logger.Error("recommendations generation failed", "error", err)
		w.notifyFailure(ctx, logger, job.TelegramID)
		return true
	}

	if err := w.predictions.SaveRecommendations(ctx, pred.ID, gen.Content); err != nil {
		// Not persisted anywhere else; let the broker redeliver.
		logger.Error("failed to persist recommendations; requeueing", "error", err)
		return false
	}

	message := fmt.Sprintf("💡 %s recommendations\n\n%s, here is how to work with your %s:\n\n%s",
		w.desc.Title, name, w.desc.Title, gen.Content)
	if err := w.notifier.SendMessage(ctx, job.TelegramID, message, nil); err != nil {
		// Saved already; the subject can request the text again.
		logger.Error("failed to deliver recommendations message", "error", err)
	}

	logger.Info("recommendations job completed", "tokens_used", gen.TotalTokens)
	return true
}

func (w *RecommendationsWorker) notifyFailure(ctx context.Context, logger *slog.Logger, telegramID int64) {
	notice := fmt.Sprintf(
		"%s Unfortunately we couldn't prepare your %s recommendations right now. Please try again a bit later.",
		w.desc.Emoji, w.desc.Title)
	if err := w.notifier.SendMessage(ctx, telegramID, notice, nil); err != nil {
		logger.Error("failed to deliver failure notice", "error", err)
	}
}
