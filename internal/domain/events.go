package domain

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisJob is the queue message one generation job consists of. The
// unit of work is keyed by the prediction id: processing the same
// message twice overwrites the same content column, which is safe.
type AnalysisJob struct {
	PredictionID uuid.UUID  `json:"prediction_id"`
	TelegramID   int64      `json:"telegram_id"`
	ProfileID    *uuid.UUID `json:"profile_id,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
}

// QuestionsQueueName is the shared queue for free-form follow-up
// questions; every planet worker process competes on it.
const QuestionsQueueName = "questions"

// RecommendationJob asks for follow-up recommendations built on an
// already-generated analysis row.
type RecommendationJob struct {
	PredictionID uuid.UUID  `json:"prediction_id"`
	TelegramID   int64      `json:"telegram_id"`
	ProfileID    *uuid.UUID `json:"profile_id,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
}

// QuestionJob carries one free-form question from the subject. The
// answer is grounded on the subject's newest generated analysis.
type QuestionJob struct {
	TelegramID int64      `json:"telegram_id"`
	ProfileID  *uuid.UUID `json:"profile_id,omitempty"`
	Question   string     `json:"question"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// PaymentSucceededEvent is the payment provider's webhook payload for a
// confirmed payment. Delivery is at-least-once; confirmation must be
// idempotent on the external payment id.
type PaymentSucceededEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}
