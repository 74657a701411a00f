package domain

import "testing"

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusPending, PaymentStatusCompleted, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusProcessing, false},
		{PaymentStatusPending, PaymentStatusDelivered, false},

		{PaymentStatusCompleted, PaymentStatusProcessing, true},
		{PaymentStatusCompleted, PaymentStatusRefunded, true},
		{PaymentStatusCompleted, PaymentStatusDelivered, false},

		// Retry bookkeeping re-enters processing.
		{PaymentStatusProcessing, PaymentStatusProcessing, true},
		{PaymentStatusProcessing, PaymentStatusDelivered, true},
		{PaymentStatusProcessing, PaymentStatusAnalysisFailed, true},
		{PaymentStatusProcessing, PaymentStatusRefunded, false},

		{PaymentStatusAnalysisFailed, PaymentStatusProcessing, true},
		{PaymentStatusAnalysisFailed, PaymentStatusCompleted, false},

		// A bundle's later planets restamp delivery, and a later planet
		// can still fail after an earlier delivery.
		{PaymentStatusDelivered, PaymentStatusDelivered, true},
		{PaymentStatusDelivered, PaymentStatusAnalysisFailed, true},
		{PaymentStatusDelivered, PaymentStatusProcessing, false},

		// Provider-side terminal states.
		{PaymentStatusFailed, PaymentStatusCompleted, false},
		{PaymentStatusRefunded, PaymentStatusProcessing, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestIsAnalysisActive(t *testing.T) {
	active := []PaymentStatus{
		PaymentStatusCompleted, PaymentStatusProcessing,
		PaymentStatusAnalysisFailed, PaymentStatusDelivered,
	}
	for _, s := range active {
		if !s.IsAnalysisActive() {
			t.Errorf("%s should be analysis-active", s)
		}
	}
	inactive := []PaymentStatus{PaymentStatusPending, PaymentStatusFailed, PaymentStatusRefunded}
	for _, s := range inactive {
		if s.IsAnalysisActive() {
			t.Errorf("%s should not be analysis-active", s)
		}
	}
}

func TestIsBundle(t *testing.T) {
	bundle := &PlanetPayment{Type: PaymentTypeAllPlanets}
	if !bundle.IsBundle() {
		t.Fatal("all_planets payment must report as bundle")
	}
	sun := PlanetSun
	single := &PlanetPayment{Type: PaymentTypeSinglePlanet, Planet: &sun}
	if single.IsBundle() {
		t.Fatal("single_planet payment must not report as bundle")
	}
}
