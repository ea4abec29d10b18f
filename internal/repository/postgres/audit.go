package postgres

import (
	"context"
	"time"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditRepository implements append-only security audit log persistence.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit event. Events are never updated or deleted.
func (r *AuditRepository) Create(ctx context.Context, event *domain.SecurityAuditEvent) error {
	query := `
		INSERT INTO admin_schema.security_audit_log (
			id, user_id, event_kind, detail, ip_address, user_agent,
			device_fingerprint, city, country, risk_score, success, created_at
		) VALUES (
			:id, :user_id, :event_kind, :detail, :ip_address, :user_agent,
			:device_fingerprint, :city, :country, :risk_score, :success, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return errors.Wrap(err, "failed to create audit event")
	}
	return nil
}

// RecentLogins returns the user's successful-login events since the given
// time, most recent first. This is the read source for risk scoring.
func (r *AuditRepository) RecentLogins(ctx context.Context, userID uuid.UUID, since time.Time) ([]domain.SecurityAuditEvent, error) {
	var events []domain.SecurityAuditEvent
	query := `
		SELECT id, user_id, event_kind, detail, ip_address, user_agent,
		       device_fingerprint, city, country, risk_score, success, created_at
		FROM admin_schema.security_audit_log
		WHERE user_id = $1 AND event_kind = $2 AND success IS TRUE AND created_at >= $3
		ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &events, query, userID, domain.EventLoginSuccess, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query recent logins")
	}
	return events, nil
}

// FindAll returns audit events with pagination, most recent first.
func (r *AuditRepository) FindAll(ctx context.Context, limit, offset int) ([]domain.SecurityAuditEvent, error) {
	var events []domain.SecurityAuditEvent
	query := `
		SELECT id, user_id, event_kind, detail, ip_address, user_agent,
		       device_fingerprint, city, country, risk_score, success, created_at
		FROM admin_schema.security_audit_log
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	err := r.db.SelectContext(ctx, &events, query, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list audit events")
	}
	return events, nil
}

// FindSince returns events created after the given time, oldest first, so
// the live stream can replay them in order.
func (r *AuditRepository) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.SecurityAuditEvent, error) {
	var events []domain.SecurityAuditEvent
	query := `
		SELECT id, user_id, event_kind, detail, ip_address, user_agent,
		       device_fingerprint, city, country, risk_score, success, created_at
		FROM admin_schema.security_audit_log
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2`

	err := r.db.SelectContext(ctx, &events, query, since, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit events")
	}
	return events, nil
}

// CountAll returns the total number of audit events.
func (r *AuditRepository) CountAll(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM admin_schema.security_audit_log`
	if err := r.db.GetContext(ctx, &total, query); err != nil {
		return 0, errors.Wrap(err, "failed to count audit events")
	}
	return total, nil
}
