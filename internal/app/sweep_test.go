package app

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
)

func TestSweep_RequeuesFailedPayment(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	payment := &domain.PlanetPayment{
		ID:         uuid.New(),
		UserID:     1,
		Type:       domain.PaymentTypeSinglePlanet,
		Planet:     planetPtr(domain.PlanetVenus),
		Status:     domain.PaymentStatusAnalysisFailed,
		RetryCount: 2,
	}
	pred := &domain.Prediction{
		ID:        uuid.New(),
		UserID:    1,
		PaymentID: &payment.ID,
		Planet:    domain.PlanetVenus,
		Type:      domain.PredictionTypePaid,
	}
	ledger := newFakeLedger(payment)
	enqueuer := &fakeEnqueuer{}
	sweep := NewSweep(ledger, newFakePredictions(pred), newFakeDirectory(user), enqueuer, 20, testLogger())

	sweep.Run()

	if len(enqueuer.calls) != 1 {
		t.Fatalf("expected one re-enqueued job, got %d", len(enqueuer.calls))
	}
	call := enqueuer.calls[0]
	if call.planet != domain.PlanetVenus || call.predictionID != pred.ID || call.telegramID != 100 {
		t.Fatalf("unexpected job: %+v", call)
	}

	picked, _ := ledger.GetPayment(context.Background(), payment.ID)
	if picked.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected processing after pickup, got %s", picked.Status)
	}
	if picked.RetryCount != 3 {
		t.Fatalf("expected retry_count 3, got %d", picked.RetryCount)
	}
}

func TestSweep_SkipsPaymentWithoutPrediction(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	payment := &domain.PlanetPayment{
		ID:     uuid.New(),
		UserID: 1,
		Type:   domain.PaymentTypeSinglePlanet,
		Planet: planetPtr(domain.PlanetSun),
		Status: domain.PaymentStatusAnalysisFailed,
	}
	ledger := newFakeLedger(payment)
	enqueuer := &fakeEnqueuer{}
	sweep := NewSweep(ledger, newFakePredictions(), newFakeDirectory(user), enqueuer, 20, testLogger())

	sweep.Run()

	if len(enqueuer.calls) != 0 {
		t.Fatal("a payment without a prediction row must be skipped")
	}
	skipped, _ := ledger.GetPayment(context.Background(), payment.ID)
	if skipped.Status != domain.PaymentStatusAnalysisFailed {
		t.Fatalf("skipped payment must keep its status, got %s", skipped.Status)
	}
}

func TestSweep_HonorsRetryCap(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	payment := &domain.PlanetPayment{
		ID:         uuid.New(),
		UserID:     1,
		Type:       domain.PaymentTypeSinglePlanet,
		Planet:     planetPtr(domain.PlanetSun),
		Status:     domain.PaymentStatusAnalysisFailed,
		RetryCount: domain.MaxAnalysisRetries,
	}
	pred := &domain.Prediction{
		ID:        uuid.New(),
		UserID:    1,
		PaymentID: &payment.ID,
		Planet:    domain.PlanetSun,
		Type:      domain.PredictionTypePaid,
	}
	enqueuer := &fakeEnqueuer{}
	sweep := NewSweep(newFakeLedger(payment), newFakePredictions(pred), newFakeDirectory(user), enqueuer, 20, testLogger())

	sweep.Run()

	if len(enqueuer.calls) != 0 {
		t.Fatal("a payment at the retry cap must not be re-enqueued")
	}
}

func TestSweep_EnqueueFailureKeepsPaymentRetryable(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	payment := &domain.PlanetPayment{
		ID:         uuid.New(),
		UserID:     1,
		Type:       domain.PaymentTypeSinglePlanet,
		Planet:     planetPtr(domain.PlanetSun),
		Status:     domain.PaymentStatusAnalysisFailed,
		RetryCount: 1,
	}
	pred := &domain.Prediction{
		ID:        uuid.New(),
		UserID:    1,
		PaymentID: &payment.ID,
		Planet:    domain.PlanetSun,
		Type:      domain.PredictionTypePaid,
	}
	ledger := newFakeLedger(payment)
	enqueuer := &fakeEnqueuer{fail: true}
	sweep := NewSweep(ledger, newFakePredictions(pred), newFakeDirectory(user), enqueuer, 20, testLogger())

	sweep.Run()

	// A broker outage during the sweep must not strand the payment in
	// processing, where no worker would ever settle or fail it.
	parked, _ := ledger.GetPayment(context.Background(), payment.ID)
	if parked.Status != domain.PaymentStatusAnalysisFailed {
		t.Fatalf("expected analysis_failed after failed re-enqueue, got %s", parked.Status)
	}
	retryable, _ := ledger.ListRetryable(context.Background(), 20)
	if len(retryable) != 1 {
		t.Fatalf("payment must stay eligible for the next sweep, got %d retryable", len(retryable))
	}
}

func TestSweep_OneBadRowDoesNotStallTheBatch(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	orphan := &domain.PlanetPayment{
		ID:     uuid.New(),
		UserID: 1,
		Type:   domain.PaymentTypeSinglePlanet,
		Planet: planetPtr(domain.PlanetSun),
		Status: domain.PaymentStatusAnalysisFailed,
	}
	healthy := &domain.PlanetPayment{
		ID:     uuid.New(),
		UserID: 1,
		Type:   domain.PaymentTypeSinglePlanet,
		Planet: planetPtr(domain.PlanetMars),
		Status: domain.PaymentStatusAnalysisFailed,
	}
	pred := &domain.Prediction{
		ID:        uuid.New(),
		UserID:    1,
		PaymentID: &healthy.ID,
		Planet:    domain.PlanetMars,
		Type:      domain.PredictionTypePaid,
	}
	enqueuer := &fakeEnqueuer{}
	sweep := NewSweep(newFakeLedger(orphan, healthy), newFakePredictions(pred), newFakeDirectory(user), enqueuer, 20, testLogger())

	sweep.Run()

	if len(enqueuer.calls) != 1 || enqueuer.calls[0].planet != domain.PlanetMars {
		t.Fatalf("the healthy payment should still be requeued, got %+v", enqueuer.calls)
	}
}
