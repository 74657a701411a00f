package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
)

// AccessLedger is the payment surface access checks need.
type AccessLedger interface {
	FindActiveSinglePayment(ctx context.Context, userID int64, profileID *uuid.UUID, planet domain.Planet) (*domain.PlanetPayment, error)
	FindActiveBundlePayment(ctx context.Context, userID int64, profileID *uuid.UUID) (*domain.PlanetPayment, error)
}

// AccessDirectory resolves subjects from their external id.
type AccessDirectory interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
}

// AccessService answers "may this subject receive this planet's
// analysis, and is a retry worth offering".
type AccessService struct {
	ledger AccessLedger
	users  AccessDirectory
	logger *slog.Logger
}

// NewAccessService creates a new access service.
func NewAccessService(ledger AccessLedger, users AccessDirectory, logger *slog.Logger) *AccessService {
	return &AccessService{ledger: ledger, users: users, logger: logger}
}

// CheckAccess resolves the governing payment for (subject, profile,
// planet). A bundle payment is preferred over a single-planet payment
// when both qualify. can_retry is true only for completed (paid but not
// yet processed) and analysis_failed payments.
func (s *AccessService) CheckAccess(ctx context.Context, telegramID int64, profileID *uuid.UUID, planet domain.Planet) (domain.AccessResult, error) {
	user, err := s.users.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return domain.AccessResult{Status: domain.AccessStatusUserNotFound}, nil
		}
		return domain.AccessResult{}, err
	}

	single, err := s.ledger.FindActiveSinglePayment(ctx, user.ID, profileID, planet)
	if err != nil && !errors.Is(err, store.ErrPaymentNotFound) {
		return domain.AccessResult{}, err
	}
	bundle, err := s.ledger.FindActiveBundlePayment(ctx, user.ID, profileID)
	if err != nil && !errors.Is(err, store.ErrPaymentNotFound) {
		return domain.AccessResult{}, err
	}

	active := bundle
	if active == nil {
		active = single
	}
	if active == nil {
		return domain.AccessResult{Status: domain.AccessStatusNotPaid}, nil
	}

	result := domain.AccessResult{PaymentID: &active.ID}
	switch active.Status {
	case domain.PaymentStatusDelivered:
		result.HasAccess = true
		result.Status = domain.AccessStatusDelivered
	case domain.PaymentStatusProcessing:
		result.HasAccess = true
		result.Status = domain.AccessStatusProcessing
	case domain.PaymentStatusAnalysisFailed:
		result.HasAccess = true
		result.Status = domain.AccessStatusFailed
		result.CanRetry = true
	case domain.PaymentStatusCompleted:
		result.HasAccess = true
		result.Status = domain.AccessStatusPaid
		result.CanRetry = true
	default:
		s.logger.Warn("payment in unexpected status during access check",
			"payment_id", active.ID, "status", active.Status)
		result.Status = domain.AccessStatusNotPaid
	}
	return result, nil
}
