package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
)

func newBundleFixture() (*fakeLedger, *fakePredictions, *fakeDirectory, *fakeEnqueuer, *domain.PlanetPayment, *domain.User) {
	user := &domain.User{ID: 1, TelegramID: 100, NatalData: strPtr("chart payload")}
	now := time.Now().UTC()
	bundle := &domain.PlanetPayment{
		ID:          uuid.New(),
		UserID:      1,
		Type:        domain.PaymentTypeAllPlanets,
		Status:      domain.PaymentStatusCompleted,
		CompletedAt: &now,
	}
	return newFakeLedger(bundle), newFakePredictions(), newFakeDirectory(user), &fakeEnqueuer{}, bundle, user
}

func TestSequencer_StartFirstEnqueuesSun(t *testing.T) {
	ledger, predictions, directory, enqueuer, bundle, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	if err := seq.StartFirst(context.Background(), 100, nil); err != nil {
		t.Fatalf("StartFirst returned error: %v", err)
	}

	if len(enqueuer.calls) != 1 || enqueuer.calls[0].planet != domain.PlanetSun {
		t.Fatalf("expected one sun job, got %+v", enqueuer.calls)
	}

	started, _ := ledger.GetPayment(context.Background(), bundle.ID)
	if started.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected processing after dispatch, got %s", started.Status)
	}
	if started.NextPlanetIndex != 1 {
		t.Fatalf("expected cursor at 1, got %d", started.NextPlanetIndex)
	}

	pred, err := predictions.GetPrediction(context.Background(), enqueuer.calls[0].predictionID)
	if err != nil {
		t.Fatalf("prediction row not created: %v", err)
	}
	if pred.PaymentID == nil || *pred.PaymentID != bundle.ID {
		t.Fatal("prediction row must carry the purchase marker")
	}
	if pred.Content == nil || *pred.Content != "chart payload" {
		t.Fatal("prediction row must carry the chart payload")
	}
}

func TestSequencer_StartFirstIsIdempotent(t *testing.T) {
	ledger, predictions, directory, enqueuer, _, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	if err := seq.StartFirst(context.Background(), 100, nil); err != nil {
		t.Fatalf("first StartFirst returned error: %v", err)
	}
	if err := seq.StartFirst(context.Background(), 100, nil); err != nil {
		t.Fatalf("second StartFirst returned error: %v", err)
	}

	if len(enqueuer.calls) != 1 {
		t.Fatalf("duplicate start must not enqueue twice, got %d jobs", len(enqueuer.calls))
	}
}

func TestSequencer_AdvanceWalksTheOrder(t *testing.T) {
	ledger, predictions, directory, enqueuer, bundle, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	if err := seq.StartFirst(context.Background(), 100, nil); err != nil {
		t.Fatalf("StartFirst returned error: %v", err)
	}
	// Sun delivered.
	sunPred := enqueuer.calls[0].predictionID
	if err := predictions.SaveAnalysis(context.Background(), sunPred, domain.PlanetSun, "sun text", domain.LLMMetadata{}); err != nil {
		t.Fatalf("SaveAnalysis returned error: %v", err)
	}

	next, err := seq.Advance(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if next == nil || *next != domain.PlanetMercury {
		t.Fatalf("expected mercury next, got %v", next)
	}
	if len(enqueuer.calls) != 2 || enqueuer.calls[1].planet != domain.PlanetMercury {
		t.Fatalf("expected mercury job, got %+v", enqueuer.calls)
	}

	advanced, _ := ledger.GetPayment(context.Background(), bundle.ID)
	if advanced.NextPlanetIndex != 2 {
		t.Fatalf("expected cursor at 2, got %d", advanced.NextPlanetIndex)
	}
}

func TestSequencer_AdvanceRaceLosesCleanly(t *testing.T) {
	ledger, predictions, directory, enqueuer, _, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	if err := seq.StartFirst(context.Background(), 100, nil); err != nil {
		t.Fatalf("StartFirst returned error: %v", err)
	}
	sunPred := enqueuer.calls[0].predictionID
	if err := predictions.SaveAnalysis(context.Background(), sunPred, domain.PlanetSun, "sun text", domain.LLMMetadata{}); err != nil {
		t.Fatalf("SaveAnalysis returned error: %v", err)
	}

	if _, err := seq.Advance(context.Background(), 100, nil); err != nil {
		t.Fatalf("first advance returned error: %v", err)
	}
	// Mercury has no analysis yet, so a second advance targets the same
	// slot and must lose the cursor race instead of double-enqueueing.
	_, err := seq.Advance(context.Background(), 100, nil)
	if !errors.Is(err, ErrAdvanceInProgress) {
		t.Fatalf("expected ErrAdvanceInProgress, got %v", err)
	}
	if len(enqueuer.calls) != 2 {
		t.Fatalf("racing advance must not enqueue, got %d jobs", len(enqueuer.calls))
	}
}

func TestSequencer_AdvanceDuringFailedPlanetReportsRetryPending(t *testing.T) {
	ledger, predictions, directory, enqueuer, bundle, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	if err := seq.StartFirst(context.Background(), 100, nil); err != nil {
		t.Fatalf("StartFirst returned error: %v", err)
	}
	// The sun job failed: no analysis was written and the payment row was
	// parked, but the cursor already sits past the sun slot.
	if err := ledger.MarkAnalysisFailed(context.Background(), bundle.ID, "generation failed"); err != nil {
		t.Fatalf("MarkAnalysisFailed returned error: %v", err)
	}

	_, err := seq.Advance(context.Background(), 100, nil)
	if !errors.Is(err, ErrRetryPending) {
		t.Fatalf("expected ErrRetryPending, got %v", err)
	}
	if len(enqueuer.calls) != 1 {
		t.Fatalf("a pending retry must not enqueue a second job, got %d jobs", len(enqueuer.calls))
	}

	parked, _ := ledger.GetPayment(context.Background(), bundle.ID)
	if parked.Status != domain.PaymentStatusAnalysisFailed {
		t.Fatalf("the parked payment must stay sweep-eligible, got %s", parked.Status)
	}
}

func TestSequencer_AdvanceAfterLastPlanet(t *testing.T) {
	ledger, predictions, directory, enqueuer, bundle, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	for i, planet := range domain.PaidPlanetOrder {
		bundle.NextPlanetIndex = i
		pred, _ := predictions.CreatePrediction(context.Background(), &domain.Prediction{
			UserID:    1,
			PaymentID: &bundle.ID,
			Planet:    planet,
			Type:      domain.PredictionTypePaid,
		})
		if err := predictions.SaveAnalysis(context.Background(), pred.ID, planet, "text", domain.LLMMetadata{}); err != nil {
			t.Fatalf("SaveAnalysis returned error: %v", err)
		}
	}

	next, err := seq.Advance(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if next != nil {
		t.Fatalf("expected completion, got next planet %v", *next)
	}
	if len(enqueuer.calls) != 0 {
		t.Fatal("a completed bundle must not enqueue anything")
	}
}

func TestSequencer_IsBundlePurchase(t *testing.T) {
	ledger, predictions, directory, enqueuer, _, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	if !seq.IsBundlePurchase(context.Background(), 100, nil) {
		t.Fatal("expected an active bundle to be detected")
	}
	if seq.IsBundlePurchase(context.Background(), 999, nil) {
		t.Fatal("unknown subject must not report a bundle")
	}
}

func TestSequencer_AdvanceWithoutBundle(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	seq := NewSequencer(newFakeLedger(), newFakePredictions(), newFakeDirectory(user), &fakeEnqueuer{}, testLogger())

	_, err := seq.Advance(context.Background(), 100, nil)
	if !errors.Is(err, ErrNoBundlePurchase) {
		t.Fatalf("expected ErrNoBundlePurchase, got %v", err)
	}
}

func TestSequencer_AdvanceReusesFailedRow(t *testing.T) {
	ledger, predictions, directory, enqueuer, bundle, _ := newBundleFixture()
	seq := NewSequencer(ledger, predictions, directory, enqueuer, testLogger())

	// A row for sun already exists without content (an earlier attempt
	// that never produced an analysis) and the cursor was reset to it.
	bundle.NextPlanetIndex = 0
	existing, _ := predictions.CreatePrediction(context.Background(), &domain.Prediction{
		UserID:    1,
		PaymentID: &bundle.ID,
		Planet:    domain.PlanetSun,
		Type:      domain.PredictionTypePaid,
	})

	next, err := seq.Advance(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if next == nil || *next != domain.PlanetSun {
		t.Fatalf("expected sun retry, got %v", next)
	}
	if len(enqueuer.calls) != 1 || enqueuer.calls[0].predictionID != existing.ID {
		t.Fatalf("expected the existing row to be reused, got %+v", enqueuer.calls)
	}
}
