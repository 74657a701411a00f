/**
 * @description
 * PostgreSQL implementation of the entitlement ledger. Every status
 * mutation is a single guarded UPDATE whose WHERE clause enforces the
 * legal transition edges, so an out-of-order caller simply affects zero
 * rows instead of corrupting the state machine.
 */
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neyroastro/insight-service/internal/domain"
)

const paymentColumns = `payment_id, user_id, profile_id, payment_type, planet, status,
       amount_kopecks, external_payment_id, payment_url, next_planet_index,
       retry_count, last_error, created_at, completed_at, analysis_started_at,
       analysis_completed_at, delivered_at`

// PaymentRepository handles database operations for the payment ledger.
type PaymentRepository struct {
	db *pgxpool.Pool
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func scanPayment(row pgx.Row) (*domain.PlanetPayment, error) {
	var p domain.PlanetPayment
	var planet *string
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.ProfileID,
		&p.Type,
		&planet,
		&p.Status,
		&p.AmountKopecks,
		&p.ExternalPaymentID,
		&p.PaymentURL,
		&p.NextPlanetIndex,
		&p.RetryCount,
		&p.LastError,
		&p.CreatedAt,
		&p.CompletedAt,
		&p.AnalysisStartedAt,
		&p.AnalysisCompletedAt,
		&p.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if planet != nil {
		pl := domain.Planet(*planet)
		p.Planet = &pl
	}
	return &p, nil
}

// CreatePayment inserts a new pending ledger row.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *domain.PlanetPayment) (*domain.PlanetPayment, error) {
	var planet *string
	if p.Planet != nil {
		s := string(*p.Planet)
		planet = &s
	}
	query := `
        INSERT INTO planet_payments (user_id, profile_id, payment_type, planet, status, amount_kopecks, external_payment_id, payment_url)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING ` + paymentColumns
	row := r.db.QueryRow(ctx, query,
		p.UserID, p.ProfileID, p.Type, planet, domain.PaymentStatusPending,
		p.AmountKopecks, p.ExternalPaymentID, p.PaymentURL,
	)
	return scanPayment(row)
}

// GetPayment retrieves one ledger row by id.
func (r *PaymentRepository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.PlanetPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM planet_payments WHERE payment_id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// ConfirmPayment moves the row matching the external payment id from
// pending to completed. Safe against at-least-once webhook delivery: a
// second call finds the row already completed, changes nothing, and
// reports confirmed=false so the caller does not dispatch twice.
func (r *PaymentRepository) ConfirmPayment(ctx context.Context, externalPaymentID string) (*domain.PlanetPayment, bool, error) {
	query := `
        UPDATE planet_payments
        SET status = $1, completed_at = NOW()
        WHERE external_payment_id = $2 AND status = $3
        RETURNING ` + paymentColumns
	p, err := scanPayment(r.db.QueryRow(ctx, query,
		domain.PaymentStatusCompleted, externalPaymentID, domain.PaymentStatusPending))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	lookup := `
        SELECT ` + paymentColumns + `
        FROM planet_payments
        WHERE external_payment_id = $1
        ORDER BY created_at DESC
        LIMIT 1`
	p, err = scanPayment(r.db.QueryRow(ctx, lookup, externalPaymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrPaymentNotFound
		}
		return nil, false, err
	}
	return p, false, nil
}

// MarkAnalysisStarted transitions the row into processing, stamps the
// start time and increments the retry counter. Returns false without an
// error when the row does not exist or is not in a startable state.
func (r *PaymentRepository) MarkAnalysisStarted(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
        UPDATE planet_payments
        SET status = $1, analysis_started_at = NOW(), retry_count = retry_count + 1
        WHERE payment_id = $2 AND status IN ($3, $4, $5)`
	tag, err := r.db.Exec(ctx, query,
		domain.PaymentStatusProcessing, id,
		domain.PaymentStatusCompleted, domain.PaymentStatusAnalysisFailed, domain.PaymentStatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDelivered transitions the row to delivered, stamps completion and
// delivery times and clears the last error. Later planets of a bundle
// restamp an already-delivered row, which is allowed.
func (r *PaymentRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE planet_payments
        SET status = $1, analysis_completed_at = NOW(), delivered_at = NOW(), last_error = NULL
        WHERE payment_id = $2 AND status IN ($3, $4)`
	tag, err := r.db.Exec(ctx, query,
		domain.PaymentStatusDelivered, id,
		domain.PaymentStatusProcessing, domain.PaymentStatusDelivered)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// MarkAnalysisFailed transitions the row to analysis_failed and stores
// the failure reason, truncated to a bounded length.
func (r *PaymentRepository) MarkAnalysisFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if len(errMsg) > domain.MaxLastErrorLength {
		errMsg = errMsg[:domain.MaxLastErrorLength]
	}
	query := `
        UPDATE planet_payments
        SET status = $1, last_error = $2
        WHERE payment_id = $3 AND status IN ($4, $5, $6)`
	tag, err := r.db.Exec(ctx, query,
		domain.PaymentStatusAnalysisFailed, errMsg, id,
		domain.PaymentStatusProcessing, domain.PaymentStatusDelivered, domain.PaymentStatusAnalysisFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// FindActiveSinglePayment returns the most recent single-planet payment
// for (user, profile, planet) whose status grants pipeline access.
func (r *PaymentRepository) FindActiveSinglePayment(ctx context.Context, userID int64, profileID *uuid.UUID, planet domain.Planet) (*domain.PlanetPayment, error) {
	query := `
        SELECT ` + paymentColumns + `
        FROM planet_payments
        WHERE user_id = $1
          AND profile_id IS NOT DISTINCT FROM $2
          AND payment_type = $3
          AND planet = $4
          AND status IN ($5, $6, $7, $8)
        ORDER BY created_at DESC
        LIMIT 1`
	p, err := scanPayment(r.db.QueryRow(ctx, query,
		userID, profileID, domain.PaymentTypeSinglePlanet, string(planet),
		domain.PaymentStatusCompleted, domain.PaymentStatusProcessing,
		domain.PaymentStatusAnalysisFailed, domain.PaymentStatusDelivered))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindActiveBundlePayment returns the most recent all-planets payment
// for (user, profile) whose status grants pipeline access.
func (r *PaymentRepository) FindActiveBundlePayment(ctx context.Context, userID int64, profileID *uuid.UUID) (*domain.PlanetPayment, error) {
	query := `
        SELECT ` + paymentColumns + `
        FROM planet_payments
        WHERE user_id = $1
          AND profile_id IS NOT DISTINCT FROM $2
          AND payment_type = $3
          AND status IN ($4, $5, $6, $7)
        ORDER BY created_at DESC
        LIMIT 1`
	p, err := scanPayment(r.db.QueryRow(ctx, query,
		userID, profileID, domain.PaymentTypeAllPlanets,
		domain.PaymentStatusCompleted, domain.PaymentStatusProcessing,
		domain.PaymentStatusAnalysisFailed, domain.PaymentStatusDelivered))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListRetryable returns analysis_failed payments still under the retry
// cap, oldest first.
func (r *PaymentRepository) ListRetryable(ctx context.Context, limit int) ([]domain.PlanetPayment, error) {
	query := `
        SELECT ` + paymentColumns + `
        FROM planet_payments
        WHERE status = $1 AND retry_count < $2
        ORDER BY created_at ASC
        LIMIT $3`
	rows, err := r.db.Query(ctx, query, domain.PaymentStatusAnalysisFailed, domain.MaxAnalysisRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.PlanetPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// AdvanceBundleCursor moves the bundle progress cursor from the expected
// position to the next one. Returns false when another caller already
// advanced it, which is how concurrent "continue" actions are serialized.
func (r *PaymentRepository) AdvanceBundleCursor(ctx context.Context, id uuid.UUID, from int) (bool, error) {
	query := `
        UPDATE planet_payments
        SET next_planet_index = $1
        WHERE payment_id = $2 AND next_planet_index = $3`
	tag, err := r.db.Exec(ctx, query, from+1, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeletePayment physically removes a ledger row. Only the explicit
// administrative reset goes through here.
func (r *PaymentRepository) DeletePayment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM planet_payments WHERE payment_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
