package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neyroastro/insight-service/internal/domain"
)

const userColumns = `user_id, telegram_id, username, first_name, last_name, gender, natal_data, joined_at`

// UserRepository handles subject and sub-profile lookups.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.TelegramID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.Gender,
		&u.NatalData,
		&u.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByTelegramID resolves the internal user from the chat
// platform's external id.
func (r *UserRepository) GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// GetUserByID retrieves a user by the internal numeric id.
func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// CreateProfile inserts a sub-profile. Birth/identity attributes are
// write-once; there is intentionally no update method.
func (r *UserRepository) CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	query := `
        INSERT INTO profiles (user_id, display_name, gender, natal_data)
        VALUES ($1, $2, $3, $4)
        RETURNING profile_id, user_id, display_name, gender, natal_data, created_at`
	var created domain.Profile
	err := r.db.QueryRow(ctx, query, p.UserID, p.DisplayName, p.Gender, p.NatalData).Scan(
		&created.ID,
		&created.UserID,
		&created.DisplayName,
		&created.Gender,
		&created.NatalData,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetProfile retrieves a sub-profile by id.
func (r *UserRepository) GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	query := `SELECT profile_id, user_id, display_name, gender, natal_data, created_at FROM profiles WHERE profile_id = $1`
	var p domain.Profile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.UserID,
		&p.DisplayName,
		&p.Gender,
		&p.NatalData,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}
