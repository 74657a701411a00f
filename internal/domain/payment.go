package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentType distinguishes a single-planet purchase from the bundle
// covering every paid planet at once.
type PaymentType string

const (
	PaymentTypeSinglePlanet PaymentType = "single_planet"
	PaymentTypeAllPlanets   PaymentType = "all_planets"
)

// PaymentStatus encodes both payment confirmation and delivery progress
// in a single field, so the dispatcher has one place to decide whether a
// job may be (re-)enqueued.
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusCompleted      PaymentStatus = "completed"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRefunded       PaymentStatus = "refunded"
	PaymentStatusProcessing     PaymentStatus = "processing"
	PaymentStatusAnalysisFailed PaymentStatus = "analysis_failed"
	PaymentStatusDelivered      PaymentStatus = "delivered"
)

// MaxAnalysisRetries is the retry cap after which a payment leaves
// recovery-sweep eligibility without changing its status.
const MaxAnalysisRetries = 5

// MaxLastErrorLength bounds the stored failure reason.
const MaxLastErrorLength = 1000

// paymentTransitions lists the allowed status edges. failed/refunded are
// terminal provider-side states reachable only from pending/completed;
// the job pipeline never enters them. processing re-enters itself on
// retry bookkeeping, and delivered may restamp itself when a bundle's
// later planets deliver against an already-delivered payment row.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:        {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded},
	PaymentStatusCompleted:      {PaymentStatusProcessing, PaymentStatusFailed, PaymentStatusRefunded},
	PaymentStatusProcessing:     {PaymentStatusProcessing, PaymentStatusDelivered, PaymentStatusAnalysisFailed},
	PaymentStatusAnalysisFailed: {PaymentStatusProcessing, PaymentStatusAnalysisFailed},
	PaymentStatusDelivered:      {PaymentStatusDelivered, PaymentStatusAnalysisFailed},
	PaymentStatusFailed:         {},
	PaymentStatusRefunded:       {},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsAnalysisActive reports whether the payment grants (or granted)
// access to the generation pipeline: paid for and somewhere between
// "ready to process" and "delivered".
func (s PaymentStatus) IsAnalysisActive() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusProcessing,
		PaymentStatusAnalysisFailed, PaymentStatusDelivered:
		return true
	}
	return false
}

// PlanetPayment is the entitlement ledger row: what a subject paid for
// and how far delivery got.
type PlanetPayment struct {
	ID                uuid.UUID
	UserID            int64
	ProfileID         *uuid.UUID
	Type              PaymentType
	Planet            *Planet // nil for all_planets
	Status            PaymentStatus
	AmountKopecks     int64
	ExternalPaymentID string
	PaymentURL        *string
	// NextPlanetIndex is the bundle progress cursor: the number of
	// planets whose jobs have been started for this purchase. Advanced
	// with a compare-and-swap so two racing "continue" actions cannot
	// both enqueue the same planet.
	NextPlanetIndex     int
	RetryCount          int
	LastError           *string
	CreatedAt           time.Time
	CompletedAt         *time.Time
	AnalysisStartedAt   *time.Time
	AnalysisCompletedAt *time.Time
	DeliveredAt         *time.Time
}

// IsBundle reports whether the payment covers all paid planets.
func (p *PlanetPayment) IsBundle() bool {
	return p.Type == PaymentTypeAllPlanets
}

// AccessStatus is the classification CheckAccess returns to callers.
type AccessStatus string

const (
	AccessStatusNotPaid      AccessStatus = "not_paid"
	AccessStatusPaid         AccessStatus = "paid"
	AccessStatusProcessing   AccessStatus = "processing"
	AccessStatusFailed       AccessStatus = "failed"
	AccessStatusDelivered    AccessStatus = "delivered"
	AccessStatusUserNotFound AccessStatus = "user_not_found"
)

// AccessResult describes whether a subject may receive a planet's
// analysis and whether a retry is worth offering.
type AccessResult struct {
	HasAccess bool         `json:"has_access"`
	Status    AccessStatus `json:"status"`
	PaymentID *uuid.UUID   `json:"payment_id,omitempty"`
	CanRetry  bool         `json:"can_retry"`
}
