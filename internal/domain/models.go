// Package domain defines the core entities for the trustgate service.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserType represents the role of a user.
type UserType string

const (
	UserTypeMember UserType = "member"
	UserTypeAdmin  UserType = "admin"
)

// User is the credential-store record this service owns.
type User struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Email         string          `json:"email" db:"email"`
	PasswordHash  *string         `json:"-" db:"password_hash"`
	FirstName     string          `json:"first_name" db:"first_name"`
	LastName      string          `json:"last_name" db:"last_name"`
	UserType      UserType        `json:"user_type" db:"user_type"`
	OAuthProvider *string         `json:"oauth_provider,omitempty" db:"oauth_provider"`
	OAuthSubject  *string         `json:"-" db:"oauth_subject"`
	TOTPSecret    *string         `json:"-" db:"totp_secret"`
	IsTOTPEnabled bool            `json:"is_totp_enabled" db:"is_totp_enabled"`
	RiskScore     decimal.Decimal `json:"risk_score" db:"risk_score"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	LastLogin     *time.Time      `json:"last_login,omitempty" db:"last_login"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// DisplayName is used when addressing the user in email.
func (u *User) DisplayName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// GeoLocation is a best-effort IP geolocation result.
type GeoLocation struct {
	City      string   `json:"city"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// DeviceInfo is the request-scoped description of the presumed device.
// It is recomputed on every request and never persisted as a whole; the
// fingerprint and derived fields are copied onto audit events.
type DeviceInfo struct {
	Fingerprint string      `json:"fingerprint"`
	Browser     string      `json:"browser"`
	OS          string      `json:"os"`
	IPAddress   string      `json:"ip_address"`
	UserAgent   string      `json:"user_agent"`
	Location    GeoLocation `json:"location"`
}

// TrustedDevice marks a (user, fingerprint) pair as previously verified.
type TrustedDevice struct {
	ID                uuid.UUID `json:"id" db:"id"`
	UserID            uuid.UUID `json:"user_id" db:"user_id"`
	DeviceFingerprint string    `json:"device_fingerprint" db:"device_fingerprint"`
	DeviceName        *string   `json:"device_name,omitempty" db:"device_name"`
	IPAddress         *string   `json:"ip_address,omitempty" db:"ip_address"`
	IsTrusted         bool      `json:"is_trusted" db:"is_trusted"`
	LastUsedAt        time.Time `json:"last_used_at" db:"last_used_at"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// TokenPurpose tags what a verification token authorizes.
type TokenPurpose string

const (
	PurposeDeviceVerification TokenPurpose = "device_verification"
)

// VerificationToken is a single-use, time-boxed step-up credential.
type VerificationToken struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	UserID            uuid.UUID    `json:"user_id" db:"user_id"`
	Token             string       `json:"-" db:"token"`
	Purpose           TokenPurpose `json:"purpose" db:"purpose"`
	DeviceFingerprint string       `json:"device_fingerprint" db:"device_fingerprint"`
	IPAddress         string       `json:"ip_address" db:"ip_address"`
	Email             *string      `json:"email,omitempty" db:"email"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	ExpiresAt         time.Time    `json:"expires_at" db:"expires_at"`
	UsedAt            *time.Time   `json:"used_at,omitempty" db:"used_at"`
}

// Audit event kinds written by this service.
const (
	EventSecurityAnalysis    = "security_analysis"
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventDeviceVerified      = "device_verified"
	EventDeviceTrustedManual = "device_trusted_manually"
	EventDeviceUntrusted     = "device_untrusted"
	EventVerificationEmail   = "verification_email_sent"
	EventTOTPEnabled         = "totp_enabled"
)

// Metadata holds structured detail payloads on audit events (jsonb column).
type Metadata map[string]interface{}

// Value implements driver.Valuer for jsonb storage.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for jsonb storage.
func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("metadata: cannot scan %T", src)
	}
	return json.Unmarshal(b, m)
}

// SecurityAuditEvent is the append-only audit record. Derived columns (IP,
// user agent, fingerprint, geo, risk score, success) are copied out of the
// detail payload for query efficiency.
type SecurityAuditEvent struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	UserID            *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	EventKind         string     `json:"event_kind" db:"event_kind"`
	Detail            Metadata   `json:"detail" db:"detail"`
	IPAddress         *string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent         *string    `json:"user_agent,omitempty" db:"user_agent"`
	DeviceFingerprint *string    `json:"device_fingerprint,omitempty" db:"device_fingerprint"`
	City              *string    `json:"city,omitempty" db:"city"`
	Country           *string    `json:"country,omitempty" db:"country"`
	RiskScore         *int       `json:"risk_score,omitempty" db:"risk_score"`
	Success           *bool      `json:"success,omitempty" db:"success"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}
