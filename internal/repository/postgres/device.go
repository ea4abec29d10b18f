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

type TrustedDeviceRepository struct {
	db *sqlx.DB
}

func NewTrustedDeviceRepository(db *sqlx.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{db: db}
}

// Upsert inserts a trusted device or refreshes an existing (user, fingerprint)
// row, bumping last_used_at and the originating IP.
func (r *TrustedDeviceRepository) Upsert(ctx context.Context, device *domain.TrustedDevice) error {
	query := `
		INSERT INTO auth_schema.trusted_devices (
			id, user_id, device_fingerprint, device_name, ip_address,
			is_trusted, last_used_at, created_at
		) VALUES (
			:id, :user_id, :device_fingerprint, :device_name, :ip_address,
			:is_trusted, :last_used_at, :created_at
		)
		ON CONFLICT (user_id, device_fingerprint) DO UPDATE SET
			last_used_at = EXCLUDED.last_used_at,
			ip_address = EXCLUDED.ip_address,
			is_trusted = EXCLUDED.is_trusted,
			device_name = COALESCE(EXCLUDED.device_name, auth_schema.trusted_devices.device_name)`

	_, err := r.db.NamedExecContext(ctx, query, device)
	if err != nil {
		return errors.Wrap(err, "failed to upsert trusted device")
	}
	return nil
}

func (r *TrustedDeviceRepository) IsTrusted(ctx context.Context, userID uuid.UUID, fingerprint string) (bool, error) {
	var trusted bool
	query := `
		SELECT is_trusted FROM auth_schema.trusted_devices
		WHERE user_id = $1 AND device_fingerprint = $2`

	err := r.db.GetContext(ctx, &trusted, query, userID, fingerprint)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check device trust")
	}
	return trusted, nil
}

// Touch bumps last_used_at and the last seen IP for an existing row. A miss
// is not an error; logins from unknown devices simply have nothing to touch.
func (r *TrustedDeviceRepository) Touch(ctx context.Context, userID uuid.UUID, fingerprint, ip string, at time.Time) error {
	query := `
		UPDATE auth_schema.trusted_devices
		SET last_used_at = $3, ip_address = $4
		WHERE user_id = $1 AND device_fingerprint = $2`

	_, err := r.db.ExecContext(ctx, query, userID, fingerprint, at, ip)
	if err != nil {
		return errors.Wrap(err, "failed to touch trusted device")
	}
	return nil
}

func (r *TrustedDeviceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.TrustedDevice, error) {
	var devices []domain.TrustedDevice
	query := `
		SELECT id, user_id, device_fingerprint, device_name, ip_address,
		       is_trusted, last_used_at, created_at
		FROM auth_schema.trusted_devices
		WHERE user_id = $1
		ORDER BY last_used_at DESC`

	if err := r.db.SelectContext(ctx, &devices, query, userID); err != nil {
		return nil, errors.Wrap(err, "failed to list trusted devices")
	}
	return devices, nil
}

// Delete removes the trust row for a (user, fingerprint) pair. Returns
// ErrDeviceNotFound when no row matched.
func (r *TrustedDeviceRepository) Delete(ctx context.Context, userID uuid.UUID, fingerprint string) error {
	query := `DELETE FROM auth_schema.trusted_devices WHERE user_id = $1 AND device_fingerprint = $2`

	res, err := r.db.ExecContext(ctx, query, userID, fingerprint)
	if err != nil {
		return errors.Wrap(err, "failed to delete trusted device")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.ErrDeviceNotFound
	}
	return nil
}
