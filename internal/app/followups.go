package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
)

// Follow-up errors surfaced to the transport layer.
var (
	// ErrAnalysisNotReady means the subject has no generated analysis yet
	// to build a follow-up on.
	ErrAnalysisNotReady = errors.New("no generated analysis to build on")
	// ErrEmptyQuestion rejects a question request without question text.
	ErrEmptyQuestion = errors.New("question text is required")
)

// FollowUpPredictions locates the analysis a follow-up builds on.
type FollowUpPredictions interface {
	LatestAnalyzedPrediction(ctx context.Context, userID int64, profileID *uuid.UUID, planet domain.Planet) (*domain.Prediction, error)
}

// FollowUpDirectory resolves the requesting subject.
type FollowUpDirectory interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
}

// FollowUpEnqueuer hands follow-up jobs to the queue.
type FollowUpEnqueuer interface {
	EnqueueRecommendations(ctx context.Context, planet domain.Planet, predictionID uuid.UUID, telegramID int64, profileID *uuid.UUID) bool
	EnqueueQuestion(ctx context.Context, telegramID int64, profileID *uuid.UUID, question string) bool
}

// FollowUpService turns "get recommendations" taps and free-form
// questions into queue jobs. Follow-ups ride on content that was
// already paid for, so no ledger state changes here.
type FollowUpService struct {
	predictions FollowUpPredictions
	directory   FollowUpDirectory
	enqueuer    FollowUpEnqueuer
	logger      *slog.Logger
}

// NewFollowUpService creates a new follow-up service.
func NewFollowUpService(
	predictions FollowUpPredictions,
	directory FollowUpDirectory,
	enqueuer FollowUpEnqueuer,
	logger *slog.Logger,
) *FollowUpService {
	return &FollowUpService{
		predictions: predictions,
		directory:   directory,
		enqueuer:    enqueuer,
		logger:      logger,
	}
}

// RequestRecommendations queues a recommendations job for the subject's
// newest generated analysis of the planet.
func (s *FollowUpService) RequestRecommendations(ctx context.Context, telegramID int64, profileID *uuid.UUID, planet domain.Planet) error {
	if domain.PaidPlanetIndex(planet) < 0 {
		return ErrUnknownPlanet
	}

	user, err := s.directory.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}

	pred, err := s.predictions.LatestAnalyzedPrediction(ctx, user.ID, profileID, planet)
	if err != nil {
		if errors.Is(err, store.ErrPredictionNotFound) {
			return ErrAnalysisNotReady
		}
		return err
	}

	if !s.enqueuer.EnqueueRecommendations(ctx, planet, pred.ID, telegramID, profileID) {
		return fmt.Errorf("failed to enqueue recommendations job for planet %s", planet)
	}
	return nil
}

// AskQuestion queues one free-form question for the subject.
func (s *FollowUpService) AskQuestion(ctx context.Context, telegramID int64, profileID *uuid.UUID, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}

	if _, err := s.directory.GetUserByTelegramID(ctx, telegramID); err != nil {
		return err
	}

	if !s.enqueuer.EnqueueQuestion(ctx, telegramID, profileID, question) {
		return errors.New("failed to enqueue question job")
	}
	return nil
}
