/**
 * @description
 * Shared store-level errors and the schema bootstrap for the
 * insight-service tables. Tables are created in code on startup, the
 * same way deployments without a migration runner bring up auxiliary
 * tables.
 */
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPredictionNotFound = errors.New("prediction not found")
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    user_id     BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    telegram_id BIGINT NOT NULL UNIQUE,
    username    TEXT,
    first_name  TEXT,
    last_name   TEXT,
    gender      TEXT NOT NULL DEFAULT 'unknown',
    natal_data  TEXT,
    joined_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profiles (
    profile_id   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id      BIGINT NOT NULL REFERENCES users(user_id),
    display_name TEXT NOT NULL,
    gender       TEXT NOT NULL DEFAULT 'unknown',
    natal_data   TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS planet_payments (
    payment_id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id               BIGINT NOT NULL,
    profile_id            UUID,
    payment_type          TEXT NOT NULL CHECK (payment_type IN ('single_planet', 'all_planets')),
    planet                TEXT,
    status                TEXT NOT NULL DEFAULT 'pending',
    amount_kopecks        BIGINT NOT NULL CHECK (amount_kopecks > 0),
    external_payment_id   TEXT,
    payment_url           TEXT,
    next_planet_index     INT NOT NULL DEFAULT 0,
    retry_count           INT NOT NULL DEFAULT 0,
    last_error            TEXT,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at          TIMESTAMPTZ,
    analysis_started_at   TIMESTAMPTZ,
    analysis_completed_at TIMESTAMPTZ,
    delivered_at          TIMESTAMPTZ,
    CHECK (payment_type = 'all_planets' OR planet IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS planet_payments_user_idx ON planet_payments (user_id);
CREATE INDEX IF NOT EXISTS planet_payments_status_idx ON planet_payments (status);
CREATE INDEX IF NOT EXISTS planet_payments_external_idx ON planet_payments (external_payment_id);

CREATE TABLE IF NOT EXISTS predictions (
    prediction_id    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id          BIGINT NOT NULL,
    profile_id       UUID,
    payment_id       UUID,
    planet           TEXT NOT NULL,
    prediction_type  TEXT NOT NULL DEFAULT 'paid',
    content          TEXT,
    moon_analysis    TEXT,
    sun_analysis     TEXT,
    mercury_analysis TEXT,
    venus_analysis   TEXT,
    mars_analysis    TEXT,
    recommendations  TEXT,
    question         TEXT,
    answer           TEXT,
    llm_model        TEXT,
    llm_tokens_used  BIGINT,
    llm_temperature  DOUBLE PRECISION,
    expires_at       TIMESTAMPTZ,
    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
    is_deleted       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS predictions_user_idx ON predictions (user_id);
CREATE INDEX IF NOT EXISTS predictions_payment_idx ON predictions (payment_id);

-- One result row per purchase per planet closes the double-enqueue gap
-- at the storage boundary.
CREATE UNIQUE INDEX IF NOT EXISTS predictions_purchase_planet_idx
    ON predictions (payment_id, planet, user_id, COALESCE(profile_id, '00000000-0000-0000-0000-000000000000'::uuid))
    WHERE payment_id IS NOT NULL;
`

// EnsureSchema creates the service tables and indexes if absent.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}
