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

// sweepTimeout bounds one full sweep run.
const sweepTimeout = 2 * time.Minute

// SweepLedger is the payment surface the recovery sweep needs.
type SweepLedger interface {
	ListRetryable(ctx context.Context, limit int) ([]domain.PlanetPayment, error)
	MarkAnalysisStarted(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAnalysisFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// SweepPredictions locates the prediction row a payment's job ran
// against.
type SweepPredictions interface {
	LatestPredictionForPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Prediction, error)
}

// SweepDirectory resolves the subject for a payment row.
type SweepDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// Sweep periodically re-enqueues failed analysis jobs. A payment stays
// eligible while it is analysis_failed and under the retry cap; each
// pickup moves it back to processing before the job is published, so a
// worker crash after pickup still leaves a consistent row for the next
// sweep.
type Sweep struct {
	ledger      SweepLedger
	predictions SweepPredictions
	directory   SweepDirectory
	enqueuer    JobEnqueuer
	logger      *slog.Logger
	batchLimit  int
}

// NewSweep creates a new recovery sweep.
func NewSweep(
	ledger SweepLedger,
	predictions SweepPredictions,
	directory SweepDirectory,
	enqueuer JobEnqueuer,
	batchLimit int,
	logger *slog.Logger,
) *Sweep {
	return &Sweep{
		ledger:      ledger,
		predictions: predictions,
		directory:   directory,
		enqueuer:    enqueuer,
		batchLimit:  batchLimit,
		logger:      logger,
	}
}

// Run executes one sweep pass. Per-payment failures are logged and
// skipped so one bad row cannot stall the rest of the batch.
func (s *Sweep) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	payments, err := s.ledger.ListRetryable(ctx, s.batchLimit)
	if err != nil {
		s.logger.Error("failed to list retryable payments", "error", err)
		return
	}
	if len(payments) == 0 {
		s.logger.Info("recovery sweep found no failed payments")
		return
	}

	s.logger.Info("recovery sweep picked up failed payments", "count", len(payments))
	requeued := 0
	for i := range payments {
		if s.retryOne(ctx, &payments[i]) {
			requeued++
		}
	}
	s.logger.Info("recovery sweep finished", "picked_up", len(payments), "requeued", requeued)
}

func (s *Sweep) retryOne(ctx context.Context, payment *domain.PlanetPayment) bool {
	logger := s.logger.With("payment_id", payment.ID, "retry_count", payment.RetryCount)

	pred, err := s.predictions.LatestPredictionForPayment(ctx, payment.ID)
	if err != nil {
		if errors.Is(err, store.ErrPredictionNotFound) {
			// No job was ever dispatched for this payment, so there is
			// nothing to re-enqueue. Left for manual inspection.
			logger.Warn("failed payment has no prediction row; skipping")
		} else {
			logger.Error("failed to locate prediction for payment", "error", err)
		}
		return false
	}

	user, err := s.directory.GetUserByID(ctx, payment.UserID)
	if err != nil {
		logger.Error("failed to resolve user for payment", "error", err)
		return false
	}

	started, err := s.ledger.MarkAnalysisStarted(ctx, payment.ID)
	if err != nil {
		logger.Error("failed to mark payment processing", "error", err)
		return false
	}
	if !started {
		// Another sweep run or a manual retry got here first.
		logger.Info("payment no longer eligible for retry; skipping")
		return false
	}

	if !s.enqueuer.Enqueue(ctx, pred.Planet, pred.ID, user.TelegramID, payment.ProfileID) {
		// Park the row again so the next sweep pass can find it; left
		// processing it would never re-enter the retryable set.
		logger.Error("failed to re-enqueue job; parking payment for the next sweep")
		if err := s.ledger.MarkAnalysisFailed(ctx, payment.ID, "failed to enqueue analysis job"); err != nil {
			logger.Error("failed to record enqueue failure", "error", err)
		}
		return false
	}

	logger.Info("re-enqueued failed analysis job", "planet", pred.Planet)
	return true
}
