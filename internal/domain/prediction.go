package domain

import (
	"time"

	"github.com/google/uuid"
)

// PredictionType distinguishes the free moon tier from paid content.
type PredictionType string

const (
	PredictionTypeFree PredictionType = "free"
	PredictionTypePaid PredictionType = "paid"
)

// LLMMetadata records how a piece of content was generated.
type LLMMetadata struct {
	Model       string
	TokensUsed  int64
	Temperature float64
}

// Prediction is one generation attempt's persisted output. Content holds
// the raw input payload from the astrology data provider (kept for
// replay and audit); the per-planet analysis columns hold the generated
// text and stay null until a worker completes.
type Prediction struct {
	ID        uuid.UUID
	UserID    int64
	ProfileID *uuid.UUID
	// PaymentID links the row to the purchase that produced it. Rows
	// written before the marker existed leave it null and are attributed
	// by created_at instead.
	PaymentID *uuid.UUID
	Planet    Planet
	Type      PredictionType
	Content   *string

	MoonAnalysis    *string
	SunAnalysis     *string
	MercuryAnalysis *string
	VenusAnalysis   *string
	MarsAnalysis    *string

	Recommendations *string
	Question        *string
	Answer          *string

	LLMModel       *string
	LLMTokensUsed  *int64
	LLMTemperature *float64

	ExpiresAt *time.Time
	IsActive  bool
	IsDeleted bool
	CreatedAt time.Time
}

// AnalysisFor returns the generated content for the given planet, nil
// when it has not been produced yet.
func (p *Prediction) AnalysisFor(planet Planet) *string {
	switch planet {
	case PlanetMoon:
		return p.MoonAnalysis
	case PlanetSun:
		return p.SunAnalysis
	case PlanetMercury:
		return p.MercuryAnalysis
	case PlanetVenus:
		return p.VenusAnalysis
	case PlanetMars:
		return p.MarsAnalysis
	}
	return nil
}

// FirstAnalysis returns any generated analysis on the row, preferring
// the paid planets in their bundle order over the free moon tier.
func (p *Prediction) FirstAnalysis() *string {
	for _, planet := range PaidPlanetOrder {
		if a := p.AnalysisFor(planet); a != nil {
			return a
		}
	}
	return p.MoonAnalysis
}

// SetAnalysis writes the generated content for the given planet.
func (p *Prediction) SetAnalysis(planet Planet, content string) {
	switch planet {
	case PlanetMoon:
		p.MoonAnalysis = &content
	case PlanetSun:
		p.SunAnalysis = &content
	case PlanetMercury:
		p.MercuryAnalysis = &content
	case PlanetVenus:
		p.VenusAnalysis = &content
	case PlanetMars:
		p.MarsAnalysis = &content
	}
}
