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

// QuestionStore is the prediction surface the question worker needs.
type QuestionStore interface {
	LatestAnalyzedAny(ctx context.Context, userID int64, profileID *uuid.UUID) (*domain.Prediction, error)
	CreateQuestionRecord(ctx context.Context, userID int64, profileID *uuid.UUID, question, answer string, meta domain.LLMMetadata) (*domain.Prediction, error)
}

// QuestionWorker consumes the shared questions queue: ground the answer
// on the subject's newest generated analysis, store the exchange as its
// own row and reply.
type QuestionWorker struct {
	predictions QuestionStore
	directory   WorkerDirectory
	generator   Generator
	notifier    Notifier
	logger      *slog.Logger
}

// NewQuestionWorker creates a new question worker.
func NewQuestionWorker(
	predictions QuestionStore,
	directory WorkerDirectory,
	generator Generator,
	notifier Notifier,
	logger *slog.Logger,
) *QuestionWorker {
	return &QuestionWorker{
		predictions: predictions,
		directory:   directory,
		generator:   generator,
		notifier:    notifier,
		logger:      logger.With("job", "question"),
	}
}

// HandleMessage processes one question. Acknowledgement contract
// matches the analysis worker.
func (w *QuestionWorker) HandleMessage(body []byte) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing question job", "panic", r)
			handled = true
		}
	}()

	var job domain.QuestionJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Error("discarding malformed question message", "error", err)
		return true
	}
	if job.Question == "" {
		w.logger.Error("discarding question message without text", "telegram_id", job.TelegramID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	logger := w.logger.With("telegram_id", job.TelegramID)
	logger.Info("processing question job")

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
				return true
			}
			logger.Error("failed to load profile; requeueing", "error", err)
			return false
		}
		name, gender = profile.DisplayName, profile.Gender
	}

	src, err := w.predictions.LatestAnalyzedAny(ctx, user.ID, job.ProfileID)
	if err != nil {
		if errors.Is(err, store.ErrPredictionNotFound) {
			logger.Info("no analysis to ground the answer on")
			w.notify(ctx, logger, job.TelegramID,
				"🔮 We need a completed analysis before answering questions. Order one first and ask again.")
			return true
		}
		logger.Error("failed to load analysis; requeueing", "error", err)
		return false
	}

	analysis := src.FirstAnalysis()
	if analysis == nil {
		logger.Error("analyzed row has no readable analysis; discarding job")
		return true
	}

	gen, err := w.generator.Generate(ctx, llmclient.GenerationRequest{
		Prompt: BuildQuestionPrompt(*analysis, job.Question, name, string(gender)),
	})
	if err != nil {
		logger.Error("answer generation failed", "error", err)
		w.notify(ctx, logger, job.TelegramID,
			"🔮 Unfortunately we couldn't answer your question right now. Please try again a bit later.")
		return true
	}

	meta := domain.LLMMetadata{
		Model:       gen.Model,
		TokensUsed:  gen.TotalTokens,
		Temperature: gen.Temperature,
	}
	if _, err := w.predictions.CreateQuestionRecord(ctx, user.ID, job.ProfileID, job.Question, gen.Content, meta); err != nil {
		// Not persisted anywhere else; let the broker redeliver.
		logger.Error("failed to store question record; requeueing", "error", err)
		return false
	}

	w.notify(ctx, logger, job.TelegramID,
		fmt.Sprintf("🔮 %s, here is the answer to your question:\n\n%s", name, gen.Content))
	logger.Info("question job completed", "tokens_used", gen.TotalTokens)
	return true
}

func (w *QuestionWorker) notify(ctx context.Context, logger *slog.Logger, telegramID int64, text string) {
	if err := w.notifier.SendMessage(ctx, telegramID, text, nil); err != nil {
		logger.Error("failed to deliver question reply", "error", err)
	}
}
