package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
)

// ErrUnknownPlanet rejects a single-planet purchase for a planet
// outside the paid set.
var ErrUnknownPlanet = errors.New("unknown or unpaid planet")

// PaymentLedger is the payment surface the payment service needs.
type PaymentLedger interface {
	CreatePayment(ctx context.Context, p *domain.PlanetPayment) (*domain.PlanetPayment, error)
	ConfirmPayment(ctx context.Context, externalPaymentID string) (*domain.PlanetPayment, bool, error)
	MarkAnalysisStarted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAnalysisFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// PaymentDirectory resolves subjects and profiles for dispatch.
type PaymentDirectory interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

// PaymentPredictions creates the job's prediction row.
type PaymentPredictions interface {
	CreatePrediction(ctx context.Context, p *domain.Prediction) (*domain.Prediction, error)
}

// BundleStarter kicks off a confirmed bundle's first planet.
type BundleStarter interface {
	StartFirst(ctx context.Context, telegramID int64, profileID *uuid.UUID) error
}

// CreatePaymentParams describes a new purchase.
type CreatePaymentParams struct {
	TelegramID        int64
	ProfileID         *uuid.UUID
	Type              domain.PaymentType
	Planet            *domain.Planet
	AmountKopecks     int64
	ExternalPaymentID string
	PaymentURL        *string
}

// PaymentService records purchases and, on provider confirmation,
// dispatches the first (or only) analysis job exactly once.
type PaymentService struct {
	ledger      PaymentLedger
	directory   PaymentDirectory
	predictions PaymentPredictions
	sequencer   BundleStarter
	enqueuer    JobEnqueuer
	logger      *slog.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	ledger PaymentLedger,
	directory PaymentDirectory,
	predictions PaymentPredictions,
	sequencer BundleStarter,
	enqueuer JobEnqueuer,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		ledger:      ledger,
		directory:   directory,
		predictions: predictions,
		sequencer:   sequencer,
		enqueuer:    enqueuer,
		logger:      logger,
	}
}

// CreatePayment records a pending purchase awaiting provider
// confirmation.
func (s *PaymentService) CreatePayment(ctx context.Context, params CreatePaymentParams) (*domain.PlanetPayment, error) {
	user, err := s.directory.GetUserByTelegramID(ctx, params.TelegramID)
	if err != nil {
		return nil, err
	}

	if params.Type == domain.PaymentTypeSinglePlanet {
		if params.Planet == nil || domain.PaidPlanetIndex(*params.Planet) < 0 {
			return nil, ErrUnknownPlanet
		}
	} else {
		params.Planet = nil
	}
	if params.ProfileID != nil {
		if _, err := s.directory.GetProfile(ctx, *params.ProfileID); err != nil {
			return nil, err
		}
	}

	return s.ledger.CreatePayment(ctx, &domain.PlanetPayment{
		UserID:            user.ID,
		ProfileID:         params.ProfileID,
		Type:              params.Type,
		Planet:            params.Planet,
		Status:            domain.PaymentStatusPending,
		AmountKopecks:     params.AmountKopecks,
		ExternalPaymentID: params.ExternalPaymentID,
		PaymentURL:        params.PaymentURL,
	})
}

// HandleConfirmed settles a provider success notification. The
// pending→completed flip happens at most once per payment, and dispatch
// rides on that flip, so replayed webhooks never enqueue a second job.
func (s *PaymentService) HandleConfirmed(ctx context.Context, externalPaymentID string) error {
	payment, confirmed, err := s.ledger.ConfirmPayment(ctx, externalPaymentID)
	if err != nil {
		return err
	}
	if !confirmed {
		s.logger.Info("payment already confirmed; skipping dispatch",
			"external_payment_id", externalPaymentID, "status", payment.Status)
		return nil
	}

	user, err := s.directory.GetUserByID(ctx, payment.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve user for confirmed payment: %w", err)
	}

	if payment.IsBundle() {
		return s.sequencer.StartFirst(ctx, user.TelegramID, payment.ProfileID)
	}
	return s.dispatchSingle(ctx, user, payment)
}

func (s *PaymentService) dispatchSingle(ctx context.Context, user *domain.User, payment *domain.PlanetPayment) error {
	if payment.Planet == nil {
		return fmt.Errorf("single-planet payment %s has no planet", payment.ID)
	}

	chartData := user.NatalData
	if payment.ProfileID != nil {
		profile, err := s.directory.GetProfile(ctx, *payment.ProfileID)
		if err != nil {
			return err
		}
		chartData = profile.NatalData
	}

	pred, err := s.predictions.CreatePrediction(ctx, &domain.Prediction{
		UserID:    user.ID,
		ProfileID: payment.ProfileID,
		PaymentID: &payment.ID,
		Planet:    *payment.Planet,
		Type:      domain.PredictionTypePaid,
		Content:   chartData,
		IsActive:  true,
	})
	if err != nil {
		return err
	}

	started, err := s.ledger.MarkAnalysisStarted(ctx, payment.ID)
	if err != nil {
		return err
	}
	if !started {
		s.logger.Warn("confirmed payment not eligible for processing",
			"payment_id", payment.ID, "status", payment.Status)
	}

	if !s.enqueuer.Enqueue(ctx, *payment.Planet, pred.ID, user.TelegramID, payment.ProfileID) {
		// Park the row where the recovery sweep will find it.
		if err := s.ledger.MarkAnalysisFailed(ctx, payment.ID, "failed to enqueue analysis job"); err != nil {
			s.logger.Error("failed to record enqueue failure", "payment_id", payment.ID, "error", err)
		}
	}
	return nil
}
