// Package postgres implements the persistence layer over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, password_hash, first_name, last_name, user_type,
	oauth_provider, oauth_subject, totp_secret, is_totp_enabled,
	risk_score, is_active, last_login, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO auth_schema.users (
			id, email, password_hash, first_name, last_name, user_type,
			oauth_provider, oauth_subject, totp_secret, is_totp_enabled,
			risk_score, is_active, last_login, created_at, updated_at
		) VALUES (
			:id, :email, :password_hash, :first_name, :last_name, :user_type,
			:oauth_provider, :oauth_subject, :totp_secret, :is_totp_enabled,
			:risk_score, :is_active, :last_login, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return errors.Wrap(err, "failed to create user")
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT ` + userColumns + ` FROM auth_schema.users WHERE id = $1`

	err := r.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user by id")
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `SELECT ` + userColumns + ` FROM auth_schema.users WHERE lower(email) = lower($1)`

	err := r.db.GetContext(ctx, &user, query, email)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user by email")
	}
	return &user, nil
}

func (r *UserRepository) FindByOAuthSubject(ctx context.Context, provider, subject string) (*domain.User, error) {
	var user domain.User
	query := `SELECT ` + userColumns + ` FROM auth_schema.users WHERE oauth_provider = $1 AND oauth_subject = $2`

	err := r.db.GetContext(ctx, &user, query, provider, subject)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user by oauth subject")
	}
	return &user, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM auth_schema.users WHERE lower(email) = lower($1))`

	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		return false, errors.Wrap(err, "failed to check user existence")
	}
	return exists, nil
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now()
	query := `
		UPDATE auth_schema.users SET
			email = :email,
			password_hash = :password_hash,
			first_name = :first_name,
			last_name = :last_name,
			oauth_provider = :oauth_provider,
			oauth_subject = :oauth_subject,
			totp_secret = :totp_secret,
			is_totp_enabled = :is_totp_enabled,
			is_active = :is_active,
			last_login = :last_login,
			updated_at = :updated_at
		WHERE id = :id`

	_, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return errors.Wrap(err, "failed to update user")
	}
	return nil
}

// UpdateRiskScore stores the most recent computed risk score for the user.
func (r *UserRepository) UpdateRiskScore(ctx context.Context, id uuid.UUID, score decimal.Decimal) error {
	query := `UPDATE auth_schema.users SET risk_score = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, score, id)
	if err != nil {
		return errors.Wrap(err, "failed to update risk score")
	}
	return nil
}

func (r *UserRepository) SetTOTP(ctx context.Context, id uuid.UUID, secret *string, enabled bool) error {
	query := `UPDATE auth_schema.users SET totp_secret = $1, is_totp_enabled = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, secret, enabled, id)
	if err != nil {
		return errors.Wrap(err, "failed to update totp settings")
	}
	return nil
}
