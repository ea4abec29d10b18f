package postgres

import (
	"context"
	"database/sql"
	"time"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type VerificationTokenRepository struct {
	db *sqlx.DB
}

func NewVerificationTokenRepository(db *sqlx.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

func (r *VerificationTokenRepository) Create(ctx context.Context, token *domain.VerificationToken) error {
	query := `
		INSERT INTO auth_schema.verification_tokens (
			id, user_id, token, purpose, device_fingerprint, ip_address,
			email, created_at, expires_at, used_at
		) VALUES (
			:id, :user_id, :token, :purpose, :device_fingerprint, :ip_address,
			:email, :created_at, :expires_at, :used_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, token)
	if err != nil {
		return errors.Wrap(err, "failed to create verification token")
	}
	return nil
}

// SetEmail backfills the target address once the route layer has looked it up.
func (r *VerificationTokenRepository) SetEmail(ctx context.Context, token, email string) error {
	query := `UPDATE auth_schema.verification_tokens SET email = $2 WHERE token = $1`
	_, err := r.db.ExecContext(ctx, query, token, email)
	if err != nil {
		return errors.Wrap(err, "failed to set token email")
	}
	return nil
}

// Redeem atomically stamps used_at on an unredeemed, unexpired token and
// returns the row. The conditional update is the only guard against two
// concurrent redemptions both succeeding; a lookup miss, a stale expiry, and
// a prior redemption all collapse into ErrInvalidVerificationToken so the
// caller cannot tell them apart.
func (r *VerificationTokenRepository) Redeem(ctx context.Context, token string, purpose domain.TokenPurpose, now time.Time) (*domain.VerificationToken, error) {
	var vt domain.VerificationToken
	query := `
		UPDATE auth_schema.verification_tokens
		SET used_at = $3
		WHERE token = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3
		RETURNING id, user_id, token, purpose, device_fingerprint, ip_address,
		          email, created_at, expires_at, used_at`

	err := r.db.GetContext(ctx, &vt, query, token, purpose, now)
	if err == sql.ErrNoRows {
		return nil, errors.ErrInvalidVerificationToken
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to redeem verification token")
	}
	return &vt, nil
}

// CountOutstanding reports unexpired, unredeemed tokens for a user. Used by
// the admin surface; concurrent logins may legitimately leave more than one.
func (r *VerificationTokenRepository) CountOutstanding(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM auth_schema.verification_tokens
		WHERE user_id = $1 AND used_at IS NULL AND expires_at > $2`

	if err := r.db.GetContext(ctx, &count, query, userID, now); err != nil {
		return 0, errors.Wrap(err, "failed to count outstanding tokens")
	}
	return count, nil
}

// DeleteExpired removes tokens whose expiry has passed and which were never
// redeemed. Pure storage hygiene; never called on the login path.
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM auth_schema.verification_tokens WHERE expires_at <= $1 AND used_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired tokens")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count deleted tokens")
	}
	return n, nil
}
