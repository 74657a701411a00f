package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neyroastro/insight-service/internal/domain"
)

const predictionColumns = `prediction_id, user_id, profile_id, payment_id, planet, prediction_type,
       content, moon_analysis, sun_analysis, mercury_analysis, venus_analysis, mars_analysis,
       recommendations, question, answer, llm_model, llm_tokens_used, llm_temperature,
       expires_at, is_active, is_deleted, created_at`

// PredictionRepository handles database operations for generated results.
type PredictionRepository struct {
	db *pgxpool.Pool
}

// NewPredictionRepository creates a new prediction repository.
func NewPredictionRepository(db *pgxpool.Pool) *PredictionRepository {
	return &PredictionRepository{db: db}
}

func scanPrediction(row pgx.Row) (*domain.Prediction, error) {
	var p domain.Prediction
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.ProfileID,
		&p.PaymentID,
		&p.Planet,
		&p.Type,
		&p.Content,
		&p.MoonAnalysis,
		&p.SunAnalysis,
		&p.MercuryAnalysis,
		&p.VenusAnalysis,
		&p.MarsAnalysis,
		&p.Recommendations,
		&p.Question,
		&p.Answer,
		&p.LLMModel,
		&p.LLMTokensUsed,
		&p.LLMTemperature,
		&p.ExpiresAt,
		&p.IsActive,
		&p.IsDeleted,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePrediction inserts a new result row carrying the raw generation
// input. The analysis columns stay null until a worker completes.
func (r *PredictionRepository) CreatePrediction(ctx context.Context, p *domain.Prediction) (*domain.Prediction, error) {
	query := `
        INSERT INTO predictions (user_id, profile_id, payment_id, planet, prediction_type, content, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING ` + predictionColumns
	row := r.db.QueryRow(ctx, query,
		p.UserID, p.ProfileID, p.PaymentID, string(p.Planet), p.Type, p.Content, p.ExpiresAt)
	return scanPrediction(row)
}

// GetPrediction retrieves one result row by id.
func (r *PredictionRepository) GetPrediction(ctx context.Context, id uuid.UUID) (*domain.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE prediction_id = $1 AND is_deleted = FALSE`
	p, err := scanPrediction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}
	return p, nil
}

// SaveAnalysis writes the generated content into the planet's analysis
// column together with the generation metadata. Reprocessing the same
// job overwrites the same column, which keeps retries idempotent.
func (r *PredictionRepository) SaveAnalysis(ctx context.Context, id uuid.UUID, planet domain.Planet, content string, meta domain.LLMMetadata) error {
	desc, ok := domain.DescriptorFor(planet)
	if !ok {
		return fmt.Errorf("no analysis column for planet %q", planet)
	}
	// The column name comes from the fixed descriptor table, never from
	// caller input.
	query := fmt.Sprintf(`
        UPDATE predictions
        SET %s = $1, llm_model = $2, llm_tokens_used = $3, llm_temperature = $4
        WHERE prediction_id = $5`, desc.Column)
	tag, err := r.db.Exec(ctx, query, content, meta.Model, meta.TokensUsed, meta.Temperature, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPredictionNotFound
	}
	return nil
}

// SaveRecommendations writes follow-up recommendations onto the
// analysis row they were generated from. Asking again overwrites the
// previous set.
func (r *PredictionRepository) SaveRecommendations(ctx context.Context, id uuid.UUID, content string) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE predictions
        SET recommendations = $1
        WHERE prediction_id = $2 AND is_deleted = FALSE`, content, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPredictionNotFound
	}
	return nil
}

// CreateQuestionRecord stores one answered question as its own row on
// the free tier. The answer doubles as the row content so existing
// readers keep working.
func (r *PredictionRepository) CreateQuestionRecord(ctx context.Context, userID int64, profileID *uuid.UUID, question, answer string, meta domain.LLMMetadata) (*domain.Prediction, error) {
	query := `
        INSERT INTO predictions (user_id, profile_id, planet, prediction_type, content, question, answer,
                                 llm_model, llm_tokens_used, llm_temperature)
        VALUES ($1, $2, 'moon', 'free', $3, $4, $5, $6, $7, $8)
        RETURNING ` + predictionColumns
	row := r.db.QueryRow(ctx, query,
		userID, profileID, answer, question, answer, meta.Model, meta.TokensUsed, meta.Temperature)
	return scanPrediction(row)
}

// LatestAnalyzedPrediction returns the newest row carrying a generated
// analysis for the given planet, the source follow-up recommendations
// build on.
func (r *PredictionRepository) LatestAnalyzedPrediction(ctx context.Context, userID int64, profileID *uuid.UUID, planet domain.Planet) (*domain.Prediction, error) {
	desc, ok := domain.DescriptorFor(planet)
	if !ok {
		return nil, fmt.Errorf("no analysis column for planet %q", planet)
	}
	query := fmt.Sprintf(`
        SELECT `+predictionColumns+`
        FROM predictions
        WHERE user_id = $1
          AND profile_id IS NOT DISTINCT FROM $2
          AND is_deleted = FALSE
          AND %s IS NOT NULL
        ORDER BY created_at DESC
        LIMIT 1`, desc.Column)
	p, err := scanPrediction(r.db.QueryRow(ctx, query, userID, profileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}
	return p, nil
}

// LatestAnalyzedAny returns the newest row with any generated analysis
// for the subject, used to ground free-form question answers.
func (r *PredictionRepository) LatestAnalyzedAny(ctx context.Context, userID int64, profileID *uuid.UUID) (*domain.Prediction, error) {
	query := `
        SELECT ` + predictionColumns + `
        FROM predictions
        WHERE user_id = $1
          AND profile_id IS NOT DISTINCT FROM $2
          AND is_deleted = FALSE
          AND COALESCE(sun_analysis, mercury_analysis, venus_analysis, mars_analysis, moon_analysis) IS NOT NULL
        ORDER BY created_at DESC
        LIMIT 1`
	p, err := scanPrediction(r.db.QueryRow(ctx, query, userID, profileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListBundlePredictions returns the result rows attributable to one
// bundle purchase: rows carrying the purchase marker, plus unmarked rows
// created at or after the purchase completed (legacy attribution).
func (r *PredictionRepository) ListBundlePredictions(ctx context.Context, paymentID uuid.UUID, userID int64, profileID *uuid.UUID, completedAt time.Time) ([]domain.Prediction, error) {
	query := `
        SELECT ` + predictionColumns + `
        FROM predictions
        WHERE user_id = $1
          AND profile_id IS NOT DISTINCT FROM $2
          AND is_deleted = FALSE
          AND (payment_id = $3 OR (payment_id IS NULL AND created_at >= $4))
        ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, userID, profileID, paymentID, completedAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	return predictions, rows.Err()
}

// LatestPredictionForPayment returns the most recent result row created
// for a purchase, used by the recovery sweep to re-dispatch a job.
func (r *PredictionRepository) LatestPredictionForPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Prediction, error) {
	query := `
        SELECT ` + predictionColumns + `
        FROM predictions
        WHERE payment_id = $1 AND is_deleted = FALSE
        ORDER BY created_at DESC
        LIMIT 1`
	p, err := scanPrediction(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}
	return p, nil
}
