package domain

import (
	"time"

	"github.com/google/uuid"
)

// Gender parameterizes prompt generation.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// User is the paying subject, identified externally by the chat
// platform's id and internally by a numeric id.
type User struct {
	ID         int64
	TelegramID int64
	Username   *string
	FirstName  *string
	LastName   *string
	Gender     Gender
	// NatalData is the subject's raw structured chart payload from the
	// astrology data provider, captured at onboarding and copied into
	// each prediction row as the generation input.
	NatalData *string
	JoinedAt  time.Time
}

// DisplayName returns the name used to address the subject in prompts
// and delivered messages.
func (u *User) DisplayName() string {
	if u.FirstName != nil && *u.FirstName != "" {
		return *u.FirstName
	}
	return "Friend"
}

// Profile is an optional secondary identity ("for someone else") a
// subject purchases analysis for. Birth/identity attributes are
// immutable after creation.
type Profile struct {
	ID          uuid.UUID
	UserID      int64
	DisplayName string
	Gender      Gender
	NatalData   *string
	CreatedAt   time.Time
}
