package app

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
)

func TestCheckAccess_UnknownUser(t *testing.T) {
	svc := NewAccessService(newFakeLedger(), newFakeDirectory(), testLogger())

	result, err := svc.CheckAccess(context.Background(), 999, nil, domain.PlanetSun)
	if err != nil {
		t.Fatalf("CheckAccess returned error: %v", err)
	}
	if result.Status != domain.AccessStatusUserNotFound || result.HasAccess {
		t.Fatalf("expected user_not_found without access, got %+v", result)
	}
}

func TestCheckAccess_NoPayment(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	svc := NewAccessService(newFakeLedger(), newFakeDirectory(user), testLogger())

	result, err := svc.CheckAccess(context.Background(), 100, nil, domain.PlanetSun)
	if err != nil {
		t.Fatalf("CheckAccess returned error: %v", err)
	}
	if result.Status != domain.AccessStatusNotPaid || result.HasAccess || result.CanRetry {
		t.Fatalf("expected not_paid, got %+v", result)
	}
}

func TestCheckAccess_StatusMapping(t *testing.T) {
	cases := []struct {
		payment  domain.PaymentStatus
		want     domain.AccessStatus
		canRetry bool
	}{
		{domain.PaymentStatusCompleted, domain.AccessStatusPaid, true},
		{domain.PaymentStatusProcessing, domain.AccessStatusProcessing, false},
		{domain.PaymentStatusAnalysisFailed, domain.AccessStatusFailed, true},
		{domain.PaymentStatusDelivered, domain.AccessStatusDelivered, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.payment), func(t *testing.T) {
			user := &domain.User{ID: 1, TelegramID: 100}
			ledger := newFakeLedger(&domain.PlanetPayment{
				UserID: 1,
				Type:   domain.PaymentTypeSinglePlanet,
				Planet: planetPtr(domain.PlanetSun),
				Status: tc.payment,
			})
			svc := NewAccessService(ledger, newFakeDirectory(user), testLogger())

			result, err := svc.CheckAccess(context.Background(), 100, nil, domain.PlanetSun)
			if err != nil {
				t.Fatalf("CheckAccess returned error: %v", err)
			}
			if !result.HasAccess {
				t.Fatal("expected access for an active payment")
			}
			if result.Status != tc.want {
				t.Fatalf("expected status %s, got %s", tc.want, result.Status)
			}
			if result.CanRetry != tc.canRetry {
				t.Fatalf("expected can_retry=%v, got %v", tc.canRetry, result.CanRetry)
			}
			if result.PaymentID == nil {
				t.Fatal("expected the governing payment id in the result")
			}
		})
	}
}

func TestCheckAccess_BundleWinsOverSingle(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	ledger := newFakeLedger(
		&domain.PlanetPayment{
			UserID: 1,
			Type:   domain.PaymentTypeSinglePlanet,
			Planet: planetPtr(domain.PlanetSun),
			Status: domain.PaymentStatusDelivered,
		},
		&domain.PlanetPayment{
			UserID: 1,
			Type:   domain.PaymentTypeAllPlanets,
			Status: domain.PaymentStatusProcessing,
		},
	)
	svc := NewAccessService(ledger, newFakeDirectory(user), testLogger())

	result, err := svc.CheckAccess(context.Background(), 100, nil, domain.PlanetSun)
	if err != nil {
		t.Fatalf("CheckAccess returned error: %v", err)
	}
	if result.Status != domain.AccessStatusProcessing {
		t.Fatalf("expected bundle payment to govern, got %+v", result)
	}
}

func TestCheckAccess_ProfileScoped(t *testing.T) {
	user := &domain.User{ID: 1, TelegramID: 100}
	profile := &domain.Profile{ID: uuid.New(), UserID: 1, DisplayName: "Anna"}

	ledger := newFakeLedger(&domain.PlanetPayment{
		UserID:    1,
		ProfileID: &profile.ID,
		Type:      domain.PaymentTypeSinglePlanet,
		Planet:    planetPtr(domain.PlanetSun),
		Status:    domain.PaymentStatusDelivered,
	})
	svc := NewAccessService(ledger, newFakeDirectory(user), testLogger())

	// The self-scope check must not see the profile's payment.
	result, err := svc.CheckAccess(context.Background(), 100, nil, domain.PlanetSun)
	if err != nil {
		t.Fatalf("CheckAccess returned error: %v", err)
	}
	if result.Status != domain.AccessStatusNotPaid {
		t.Fatalf("profile payment leaked into self scope: %+v", result)
	}

	result, err = svc.CheckAccess(context.Background(), 100, &profile.ID, domain.PlanetSun)
	if err != nil {
		t.Fatalf("CheckAccess returned error: %v", err)
	}
	if result.Status != domain.AccessStatusDelivered {
		t.Fatalf("expected profile-scoped delivery, got %+v", result)
	}
}
