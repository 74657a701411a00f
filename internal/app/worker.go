/**
 * @description
 * The generic analysis worker. One worker process serves exactly one
 * planet's queue; the planet descriptor carries everything
 * planet-specific (queue name, title, emoji, storage column), so the
 * processing loop here is shared by every planet.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
	"github.com/neyroastro/insight-service/pkg/llmclient"
	"github.com/neyroastro/insight-service/pkg/telegramclient"
)

// jobTimeout bounds one message's end-to-end processing, including the
// provider's in-process retries.
const jobTimeout = 10 * time.Minute

// WorkerPredictions is the prediction storage surface a worker needs.
type WorkerPredictions interface {
	GetPrediction(ctx context.Context, id uuid.UUID) (*domain.Prediction, error)
	SaveAnalysis(ctx context.Context, id uuid.UUID, planet domain.Planet, content string, meta domain.LLMMetadata) error
}

// WorkerLedger is the payment storage surface a worker needs.
type WorkerLedger interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.PlanetPayment, error)
	FindActiveSinglePayment(ctx context.Context, userID int64, profileID *uuid.UUID, planet domain.Planet) (*domain.PlanetPayment, error)
	FindActiveBundlePayment(ctx context.Context, userID int64, profileID *uuid.UUID) (*domain.PlanetPayment, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkAnalysisFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// WorkerDirectory resolves users and sub-profiles.
type WorkerDirectory interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

// Generator produces analysis content from a prompt.
type Generator interface {
	Generate(ctx context.Context, req llmclient.GenerationRequest) (*llmclient.Generation, error)
}

// Notifier delivers a message to the subject.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegramclient.InlineKeyboard) error
}

// Worker consumes one planet's queue: load the prediction, generate the
// analysis, persist it, settle the payment row and notify the subject.
type Worker struct {
	desc        domain.PlanetDescriptor
	predictions WorkerPredictions
	ledger      WorkerLedger
	directory   WorkerDirectory
	generator   Generator
	notifier    Notifier
	logger      *slog.Logger
}

// NewWorker creates a worker bound to one planet.
func NewWorker(
	desc domain.PlanetDescriptor,
	predictions WorkerPredictions,
	ledger WorkerLedger,
	directory WorkerDirectory,
	generator Generator,
	notifier Notifier,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		desc:        desc,
		predictions: predictions,
		ledger:      ledger,
		directory:   directory,
		generator:   generator,
		notifier:    notifier,
		logger:      logger.With("planet", desc.Planet),
	}
}

// HandleMessage processes one queue delivery. The return value is the
// acknowledgement decision: true acks the message (the job was handled,
// whether it succeeded or failed), false nacks it for redelivery. Only
// infrastructure trouble that a redelivery could fix returns false; a
// panic anywhere in processing is caught here so the consume loop
// survives it.
func (w *Worker) HandleMessage(body []byte) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing analysis job", "panic", r)
			handled = true
		}
	}()

	var job domain.AnalysisJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Error("discarding malformed job message", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	logger := w.logger.With("prediction_id", job.PredictionID, "telegram_id", job.TelegramID)
	logger.Info("processing analysis job")

	pred, err := w.predictions.GetPrediction(ctx, job.PredictionID)
	if err != nil {
		if errors.Is(err, store.ErrPredictionNotFound) {
			logger.Error("prediction row missing; discarding job")
			return true
		}
		logger.Error("failed to load prediction; requeueing", "error", err)
		return false
	}

	payment := w.resolvePayment(ctx, pred)
	if payment == nil {
		logger.Warn("no governing payment found for job")
	}

	user, err := w.directory.GetUserByTelegramID(ctx, job.TelegramID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			w.failJob(ctx, logger, payment, job.TelegramID, "user not found")
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
				w.failJob(ctx, logger, payment, job.TelegramID,
					fmt.Sprintf("profile %s not found", *job.ProfileID))
				return true
			}
			logger.Error("failed to load profile; requeueing", "error", err)
			return false
		}
		name, gender = profile.DisplayName, profile.Gender
	}

	chartData := ""
	if pred.Content != nil {
		chartData = *pred.Content
	}

	gen, err := w.generator.Generate(ctx, llmclient.GenerationRequest{
		Prompt: BuildPrompt(w.desc.Planet, chartData, name, string(gender)),
	})
	if err != nil {
		w.failJob(ctx, logger, payment, job.TelegramID, "generation failed: "+err.Error())
		return true
	}

	meta := domain.LLMMetadata{
		Model:       gen.Model,
		TokensUsed:  gen.TotalTokens,
		Temperature: gen.Temperature,
	}
	if err := w.predictions.SaveAnalysis(ctx, pred.ID, w.desc.Planet, gen.Content, meta); err != nil {
		// The generated content is not persisted anywhere else, so let
		// the broker redeliver and regenerate rather than lose it.
		logger.Error("failed to persist analysis; requeueing", "error", err)
		return false
	}

	if payment != nil {
		if err := w.ledger.MarkDelivered(ctx, payment.ID); err != nil {
			logger.Error("failed to mark payment delivered", "payment_id", payment.ID, "error", err)
		}
	}

	message := w.formatDelivery(name, gen)
	if err := w.notifier.SendMessage(ctx, job.TelegramID, message, w.deliveryKeyboard(payment)); err != nil {
		// The analysis is saved and the payment settled; the subject can
		// re-request the text, so delivery trouble is logged only.
		logger.Error("failed to deliver analysis message", "error", err)
	}

	logger.Info("analysis job completed", "tokens_used", gen.TotalTokens)
	return true
}

// resolvePayment finds the payment row this job settles. The explicit
// marker on the prediction wins; otherwise the active bundle, then the
// active single-planet payment for the subject.
func (w *Worker) resolvePayment(ctx context.Context, pred *domain.Prediction) *domain.PlanetPayment {
	if pred.PaymentID != nil {
		if p, err := w.ledger.GetPayment(ctx, *pred.PaymentID); err == nil {
			return p
		}
	}
	if p, err := w.ledger.FindActiveBundlePayment(ctx, pred.UserID, pred.ProfileID); err == nil {
		return p
	}
	if p, err := w.ledger.FindActiveSinglePayment(ctx, pred.UserID, pred.ProfileID, w.desc.Planet); err == nil {
		return p
	}
	return nil
}

// failJob records the failure on the payment row and tells the subject
// something went wrong, without internal detail.
func (w *Worker) failJob(ctx context.Context, logger *slog.Logger, payment *domain.PlanetPayment, telegramID int64, reason string) {
	logger.Error("analysis job failed", "reason", reason)
	if payment != nil {
		if err := w.ledger.MarkAnalysisFailed(ctx, payment.ID, reason); err != nil {
			logger.Error("failed to mark payment analysis_failed", "payment_id", payment.ID, "error", err)
		}
	}

	notice := fmt.Sprintf(
		"%s Unfortunately we couldn't prepare your %s analysis right now. We'll retry automatically — no action needed.",
		w.desc.Emoji, w.desc.Title)
	if err := w.notifier.SendMessage(ctx, telegramID, notice, nil); err != nil {
		logger.Error("failed to deliver failure notice", "error", err)
	}
}

func (w *Worker) formatDelivery(name string, gen *llmclient.Generation) string {
	return fmt.Sprintf("%s %s analysis\n\n%s, here is your personal reading:\n\n%s\n\n— %s · %s",
		w.desc.Emoji, w.desc.Title, name, gen.Content,
		time.Now().UTC().Format("02.01.2006"), gen.Model)
}

// deliveryKeyboard picks the follow-up actions: a bundle purchase gets a
// "next planet" button until the last planet in the order, everyone
// else gets the generic discovery actions.
func (w *Worker) deliveryKeyboard(payment *domain.PlanetPayment) *telegramclient.InlineKeyboard {
	isBundle := payment != nil && payment.IsBundle()
	lastPaid := domain.PaidPlanetOrder[len(domain.PaidPlanetOrder)-1]

	if isBundle && w.desc.Planet != lastPaid {
		return &telegramclient.InlineKeyboard{
			InlineKeyboard: [][]telegramclient.InlineKeyboardButton{
				{{Text: "➡️ Next planet", CallbackData: "next_planet"}},
				{{Text: "💡 Get recommendations", CallbackData: "get_recommendations"}},
			},
		}
	}
	return &telegramclient.InlineKeyboard{
		InlineKeyboard: [][]telegramclient.InlineKeyboardButton{
			{{Text: "💡 Get recommendations", CallbackData: "get_recommendations"}},
			{{Text: "🔮 Explore other areas", CallbackData: "explore_areas"}},
		},
	}
}
