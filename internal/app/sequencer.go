package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
)

// Sequencer errors surfaced to the transport layer.
var (
	// ErrNoBundlePurchase means the subject has no active all-planets
	// payment to advance.
	ErrNoBundlePurchase = errors.New("no active bundle purchase")
	// ErrAdvanceInProgress means another request already claimed the next
	// planet (the progress cursor moved underneath us).
	ErrAdvanceInProgress = errors.New("bundle advance already in progress")
	// ErrRetryPending means the next undelivered planet already failed
	// once and is waiting for the recovery sweep, not for a new claim.
	ErrRetryPending = errors.New("planet analysis retry pending")
)

// SequencerLedger is the payment surface the sequencer needs.
type SequencerLedger interface {
	FindActiveBundlePayment(ctx context.Context, userID int64, profileID *uuid.UUID) (*domain.PlanetPayment, error)
	AdvanceBundleCursor(ctx context.Context, id uuid.UUID, from int) (bool, error)
	MarkAnalysisStarted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAnalysisFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// SequencerPredictions is the prediction surface the sequencer needs.
type SequencerPredictions interface {
	CreatePrediction(ctx context.Context, p *domain.Prediction) (*domain.Prediction, error)
	ListBundlePredictions(ctx context.Context, paymentID uuid.UUID, userID int64, profileID *uuid.UUID, completedAt time.Time) ([]domain.Prediction, error)
}

// SequencerDirectory resolves subjects and profiles.
type SequencerDirectory interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

// JobEnqueuer hands a prepared job to the queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, planet domain.Planet, predictionID uuid.UUID, telegramID int64, profileID *uuid.UUID) bool
}

// Sequencer walks a bundle purchase through the paid planets in their
// fixed order, one job at a time, advancing only on explicit request.
type Sequencer struct {
	ledger      SequencerLedger
	predictions SequencerPredictions
	directory   SequencerDirectory
	enqueuer    JobEnqueuer
	logger      *slog.Logger
}

// NewSequencer creates a new bundle sequencer.
func NewSequencer(
	ledger SequencerLedger,
	predictions SequencerPredictions,
	directory SequencerDirectory,
	enqueuer JobEnqueuer,
	logger *slog.Logger,
) *Sequencer {
	return &Sequencer{
		ledger:      ledger,
		predictions: predictions,
		directory:   directory,
		enqueuer:    enqueuer,
		logger:      logger,
	}
}

// StartFirst kicks off a freshly confirmed bundle: claim the cursor for
// the first paid planet, create its prediction row and enqueue the job.
// Calling it twice for the same payment is harmless; the cursor claim
// fails the second time.
func (s *Sequencer) StartFirst(ctx context.Context, telegramID int64, profileID *uuid.UUID) error {
	user, bundle, err := s.resolveBundle(ctx, telegramID, profileID)
	if err != nil {
		return err
	}

	claimed, err := s.ledger.AdvanceBundleCursor(ctx, bundle.ID, 0)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Info("bundle already started", "payment_id", bundle.ID)
		return nil
	}

	first := domain.PaidPlanetOrder[0]
	return s.launch(ctx, user, bundle, profileID, first, nil)
}

// Advance moves the bundle to its next undelivered planet. Returns the
// planet whose job was enqueued, or nil when every paid planet has
// already been delivered. A concurrent advance for the same bundle
// loses the cursor race and gets ErrAdvanceInProgress.
func (s *Sequencer) Advance(ctx context.Context, telegramID int64, profileID *uuid.UUID) (*domain.Planet, error) {
	user, bundle, err := s.resolveBundle(ctx, telegramID, profileID)
	if err != nil {
		return nil, err
	}

	completedAt := bundle.CreatedAt
	if bundle.CompletedAt != nil {
		completedAt = *bundle.CompletedAt
	}
	preds, err := s.predictions.ListBundlePredictions(ctx, bundle.ID, user.ID, profileID, completedAt)
	if err != nil {
		return nil, err
	}

	next, existing := nextUndelivered(preds)
	if next == nil {
		return nil, nil
	}

	// The cursor already past the undelivered planet means its job was
	// claimed before. A failed payment row is waiting on the recovery
	// sweep; anything else is still being worked on.
	if domain.PaidPlanetIndex(*next) < bundle.NextPlanetIndex {
		if bundle.Status == domain.PaymentStatusAnalysisFailed {
			return nil, ErrRetryPending
		}
		return nil, ErrAdvanceInProgress
	}

	claimed, err := s.ledger.AdvanceBundleCursor(ctx, bundle.ID, domain.PaidPlanetIndex(*next))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAdvanceInProgress
	}

	if err := s.launch(ctx, user, bundle, profileID, *next, existing); err != nil {
		return nil, err
	}
	return next, nil
}

// IsBundlePurchase reports whether the subject's most recent active
// payment for the profile is the all-planets bundle.
func (s *Sequencer) IsBundlePurchase(ctx context.Context, telegramID int64, profileID *uuid.UUID) bool {
	user, err := s.directory.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return false
	}
	_, err = s.ledger.FindActiveBundlePayment(ctx, user.ID, profileID)
	return err == nil
}

func (s *Sequencer) resolveBundle(ctx context.Context, telegramID int64, profileID *uuid.UUID) (*domain.User, *domain.PlanetPayment, error) {
	user, err := s.directory.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, nil, err
	}
	bundle, err := s.ledger.FindActiveBundlePayment(ctx, user.ID, profileID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil, nil, ErrNoBundlePurchase
		}
		return nil, nil, err
	}
	return user, bundle, nil
}

// launch creates (or reuses) the prediction row for the planet, marks
// the payment row processing and enqueues the job.
func (s *Sequencer) launch(ctx context.Context, user *domain.User, bundle *domain.PlanetPayment, profileID *uuid.UUID, planet domain.Planet, existing *domain.Prediction) error {
	pred := existing
	if pred == nil {
		chartData := user.NatalData
		if profileID != nil {
			profile, err := s.directory.GetProfile(ctx, *profileID)
			if err != nil {
				return err
			}
			chartData = profile.NatalData
		}

		created, err := s.predictions.CreatePrediction(ctx, &domain.Prediction{
			UserID:    user.ID,
			ProfileID: profileID,
			PaymentID: &bundle.ID,
			Planet:    planet,
			Type:      domain.PredictionTypePaid,
			Content:   chartData,
			IsActive:  true,
		})
		if err != nil {
			return err
		}
		pred = created
	}

	started, err := s.ledger.MarkAnalysisStarted(ctx, bundle.ID)
	if err != nil {
		return err
	}
	if !started {
		s.logger.Warn("payment not eligible for processing",
			"payment_id", bundle.ID, "status", bundle.Status)
	}

	if !s.enqueuer.Enqueue(ctx, planet, pred.ID, user.TelegramID, profileID) {
		// Park the row where the recovery sweep will find it.
		if err := s.ledger.MarkAnalysisFailed(ctx, bundle.ID, "failed to enqueue analysis job"); err != nil {
			s.logger.Error("failed to record enqueue failure", "payment_id", bundle.ID, "error", err)
		}
	}
	return nil
}

// nextUndelivered scans the bundle's prediction rows in planet order and
// returns the first planet with no generated analysis, together with an
// already-created row for it (from an earlier failed attempt) if one
// exists.
func nextUndelivered(preds []domain.Prediction) (*domain.Planet, *domain.Prediction) {
	for _, planet := range domain.PaidPlanetOrder {
		var rowForPlanet *domain.Prediction
		delivered := false
		for i := range preds {
			if preds[i].Planet != planet {
				continue
			}
			rowForPlanet = &preds[i]
			if preds[i].AnalysisFor(planet) != nil {
				delivered = true
				break
			}
		}
		if !delivered {
			p := planet
			return &p, rowForPlanet
		}
	}
	return nil, nil
}
