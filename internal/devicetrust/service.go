package devicetrust

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Additive risk weights. Signals are independent; several can fire on the
// same attempt.
const (
	scoreNewDevice = 50
	scoreNewIP     = 30
	scoreIPChange  = 20
	scoreVelocity  = 25

	// Verification fires at score >= threshold; a lone new-device signal
	// is sufficient.
	verificationThreshold = 50

	// More than this many successful logins inside the lookback window
	// raises the velocity signal.
	velocityMaxLogins = 5
)

const verificationTokenBytes = 32

type DeviceRepository interface {
	Upsert(ctx context.Context, device *domain.TrustedDevice) error
	IsTrusted(ctx context.Context, userID uuid.UUID, fingerprint string) (bool, error)
	Touch(ctx context.Context, userID uuid.UUID, fingerprint, ip string, at time.Time) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.TrustedDevice, error)
	Delete(ctx context.Context, userID uuid.UUID, fingerprint string) error
}

type TokenRepository interface {
	Create(ctx context.Context, token *domain.VerificationToken) error
	SetEmail(ctx context.Context, token, email string) error
	Redeem(ctx context.Context, token string, purpose domain.TokenPurpose, now time.Time) (*domain.VerificationToken, error)
	CountOutstanding(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type AuditRepository interface {
	Create(ctx context.Context, event *domain.SecurityAuditEvent) error
	RecentLogins(ctx context.Context, userID uuid.UUID, since time.Time) ([]domain.SecurityAuditEvent, error)
}

type UserRepository interface {
	UpdateRiskScore(ctx context.Context, id uuid.UUID, score decimal.Decimal) error
}

// AnalysisResult is the outcome of a login risk analysis.
type AnalysisResult struct {
	RequiresVerification bool     `json:"requires_verification"`
	RiskScore            int      `json:"risk_score"`
	Reasons              []string `json:"reasons"`
	VerificationToken    string   `json:"verification_token,omitempty"`
}

// Service owns risk scoring, the verification token lifecycle, and trusted
// device management. It holds no in-process state; every call re-reads
// storage, so concurrent attempts for the same (user, fingerprint) pair are
// scored independently.
type Service struct {
	devices  DeviceRepository
	tokens   TokenRepository
	audit    AuditRepository
	users    UserRepository
	logger   logger.Logger
	tokenTTL time.Duration
	lookback time.Duration
	now      func() time.Time
}

func NewService(devices DeviceRepository, tokens TokenRepository, audit AuditRepository, users UserRepository, log logger.Logger, tokenTTL, lookback time.Duration) *Service {
	return &Service{
		devices:  devices,
		tokens:   tokens,
		audit:    audit,
		users:    users,
		logger:   log,
		tokenTTL: tokenTTL,
		lookback: lookback,
		now:      time.Now,
	}
}

// AnalyzeLoginSecurity scores a login attempt that has already passed the
// primary credential check. When the score crosses the threshold a
// verification token is minted and persisted before the result is returned.
//
// Storage read failures degrade the relevant signal conservatively and force
// verification rather than letting the attempt through unscored. A failure
// to persist the required token is returned as an error so the route layer
// fails the login instead of skipping the step-up.
func (s *Service) AnalyzeLoginSecurity(ctx context.Context, userID uuid.UUID, device domain.DeviceInfo) (*AnalysisResult, error) {
	now := s.now()
	score := 0
	reasons := []string{}
	degraded := false

	trusted, err := s.devices.IsTrusted(ctx, userID, device.Fingerprint)
	if err != nil {
		s.logger.Error("device trust lookup failed", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
		trusted = false
		degraded = true
	}
	if !trusted {
		score += scoreNewDevice
		reasons = append(reasons, "New device detected")
	}

	logins, err := s.audit.RecentLogins(ctx, userID, now.Add(-s.lookback))
	if err != nil {
		s.logger.Error("login history lookup failed", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
		logins = nil
		degraded = true
	}

	if len(logins) > 0 {
		if !ipSeen(logins, device.IPAddress) {
			score += scoreNewIP
			reasons = append(reasons, "Login from new IP address")
		}
		// RecentLogins is ordered most recent first.
		if last := logins[0].IPAddress; last != nil && *last != device.IPAddress {
			score += scoreIPChange
			reasons = append(reasons, "IP address changed since last login")
		}
	}

	if len(logins) > velocityMaxLogins {
		score += scoreVelocity
		reasons = append(reasons, "High login frequency detected")
	}

	result := &AnalysisResult{
		RequiresVerification: score >= verificationThreshold || degraded,
		RiskScore:            score,
		Reasons:              reasons,
	}

	if result.RequiresVerification {
		token, err := s.createVerificationToken(ctx, userID, device, now)
		if err != nil {
			return nil, errors.Wrap(err, "failed to issue verification token")
		}
		result.VerificationToken = token
	}

	s.recordAnalysis(ctx, userID, device, result, now)

	if err := s.users.UpdateRiskScore(ctx, userID, decimal.NewFromInt(int64(score))); err != nil {
		s.logger.Warn("risk score update failed", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}

	return result, nil
}

func ipSeen(logins []domain.SecurityAuditEvent, ip string) bool {
	for _, l := range logins {
		if l.IPAddress != nil && *l.IPAddress == ip {
			return true
		}
	}
	return false
}

func (s *Service) createVerificationToken(ctx context.Context, userID uuid.UUID, device domain.DeviceInfo, now time.Time) (string, error) {
	raw := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	vt := &domain.VerificationToken{
		ID:                uuid.New(),
		UserID:            userID,
		Token:             token,
		Purpose:           domain.PurposeDeviceVerification,
		DeviceFingerprint: device.Fingerprint,
		IPAddress:         device.IPAddress,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.tokenTTL),
	}

	if err := s.tokens.Create(ctx, vt); err != nil {
		return "", err
	}
	return token, nil
}

// recordAnalysis appends the security_analysis audit event. Write failures
// are logged and swallowed; the analysis result stands either way.
func (s *Service) recordAnalysis(ctx context.Context, userID uuid.UUID, device domain.DeviceInfo, result *AnalysisResult, now time.Time) {
	passed := !result.RequiresVerification
	event := s.newEvent(userID, domain.EventSecurityAnalysis, device, now)
	event.RiskScore = &result.RiskScore
	event.Success = &passed
	event.Detail = domain.Metadata{
		"requires_verification": result.RequiresVerification,
		"risk_score":            result.RiskScore,
		"reasons":               result.Reasons,
		"browser":               device.Browser,
		"os":                    device.OS,
	}

	if err := s.audit.Create(ctx, event); err != nil {
		s.logger.Error("failed to record security analysis", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}
}

// AttachEmail backfills the token's target address once the route layer has
// looked the user's email up.
func (s *Service) AttachEmail(ctx context.Context, token, email string) error {
	return s.tokens.SetEmail(ctx, token, email)
}

// VerifyDeviceToken redeems a verification token. On success the device is
// marked trusted and the owning user ID is returned so the caller can mint a
// session credential. Every failure mode reports the same error.
func (s *Service) VerifyDeviceToken(ctx context.Context, token string) (uuid.UUID, error) {
	now := s.now()

	vt, err := s.tokens.Redeem(ctx, token, domain.PurposeDeviceVerification, now)
	if err != nil {
		return uuid.Nil, err
	}

	device := &domain.TrustedDevice{
		ID:                uuid.New(),
		UserID:            vt.UserID,
		DeviceFingerprint: vt.DeviceFingerprint,
		IPAddress:         &vt.IPAddress,
		IsTrusted:         true,
		LastUsedAt:        now,
		CreatedAt:         now,
	}
	if err := s.devices.Upsert(ctx, device); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to persist trusted device")
	}

	event := &domain.SecurityAuditEvent{
		ID:                uuid.New(),
		UserID:            &vt.UserID,
		EventKind:         domain.EventDeviceVerified,
		IPAddress:         &vt.IPAddress,
		DeviceFingerprint: &vt.DeviceFingerprint,
		Success:           boolPtr(true),
		Detail: domain.Metadata{
			"token_id": vt.ID.String(),
		},
		CreatedAt: now,
	}
	if err := s.audit.Create(ctx, event); err != nil {
		s.logger.Error("failed to record device verification", map[string]interface{}{
			"user_id": vt.UserID, "error": err.Error(),
		})
	}

	return vt.UserID, nil
}

// RecordLoginSuccess appends the login_success event future lookbacks read
// and bumps the matching trusted device. Failures are logged, never surfaced.
func (s *Service) RecordLoginSuccess(ctx context.Context, userID uuid.UUID, device domain.DeviceInfo) {
	now := s.now()

	event := s.newEvent(userID, domain.EventLoginSuccess, device, now)
	event.Success = boolPtr(true)
	event.Detail = domain.Metadata{
		"browser": device.Browser,
		"os":      device.OS,
	}
	if err := s.audit.Create(ctx, event); err != nil {
		s.logger.Error("failed to record login", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}

	if err := s.devices.Touch(ctx, userID, device.Fingerprint, device.IPAddress, now); err != nil {
		s.logger.Warn("failed to touch trusted device", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}
}

// RecordLoginFailure appends a login_failed event. UserID may be nil when
// the identifier did not resolve to an account.
func (s *Service) RecordLoginFailure(ctx context.Context, userID *uuid.UUID, device domain.DeviceInfo, reason string) {
	now := s.now()

	event := &domain.SecurityAuditEvent{
		ID:                uuid.New(),
		UserID:            userID,
		EventKind:         domain.EventLoginFailed,
		IPAddress:         &device.IPAddress,
		UserAgent:         &device.UserAgent,
		DeviceFingerprint: &device.Fingerprint,
		City:              &device.Location.City,
		Country:           &device.Location.Country,
		Success:           boolPtr(false),
		Detail:            domain.Metadata{"reason": reason},
		CreatedAt:         now,
	}
	if err := s.audit.Create(ctx, event); err != nil {
		s.logger.Error("failed to record login failure", map[string]interface{}{"error": err.Error()})
	}
}

// TrustDevice grants trust directly, bypassing the token flow. Intended for
// support and admin workflows only.
func (s *Service) TrustDevice(ctx context.Context, userID uuid.UUID, fingerprint, ip string, name *string) error {
	now := s.now()

	device := &domain.TrustedDevice{
		ID:                uuid.New(),
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		DeviceName:        name,
		IPAddress:         &ip,
		IsTrusted:         true,
		LastUsedAt:        now,
		CreatedAt:         now,
	}
	if err := s.devices.Upsert(ctx, device); err != nil {
		return err
	}

	event := &domain.SecurityAuditEvent{
		ID:                uuid.New(),
		UserID:            &userID,
		EventKind:         domain.EventDeviceTrustedManual,
		IPAddress:         &ip,
		DeviceFingerprint: &fingerprint,
		Success:           boolPtr(true),
		CreatedAt:         now,
	}
	if err := s.audit.Create(ctx, event); err != nil {
		s.logger.Error("failed to record manual trust grant", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}
	return nil
}

// RemoveTrustedDevice revokes trust for the pair. Sessions already issued
// stay valid until their own expiry; only future logins are affected.
func (s *Service) RemoveTrustedDevice(ctx context.Context, userID uuid.UUID, fingerprint string) error {
	if err := s.devices.Delete(ctx, userID, fingerprint); err != nil {
		return err
	}

	event := &domain.SecurityAuditEvent{
		ID:                uuid.New(),
		UserID:            &userID,
		EventKind:         domain.EventDeviceUntrusted,
		DeviceFingerprint: &fingerprint,
		Success:           boolPtr(true),
		CreatedAt:         s.now(),
	}
	if err := s.audit.Create(ctx, event); err != nil {
		s.logger.Error("failed to record trust revocation", map[string]interface{}{
			"user_id": userID, "error": err.Error(),
		})
	}
	return nil
}

// ListDevices returns the user's trusted devices, most recently used first.
func (s *Service) ListDevices(ctx context.Context, userID uuid.UUID) ([]domain.TrustedDevice, error) {
	return s.devices.ListByUser(ctx, userID)
}

// OutstandingVerifications counts a user's unexpired, unredeemed tokens.
// Concurrent logins may legitimately leave more than one outstanding.
func (s *Service) OutstandingVerifications(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.tokens.CountOutstanding(ctx, userID, s.now())
}

// CleanupExpiredTokens removes expired, never-redeemed tokens. Runs out of
// band; the verification flow does not depend on it.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now())
}

func (s *Service) newEvent(userID uuid.UUID, kind string, device domain.DeviceInfo, now time.Time) *domain.SecurityAuditEvent {
	return &domain.SecurityAuditEvent{
		ID:                uuid.New(),
		UserID:            &userID,
		EventKind:         kind,
		IPAddress:         &device.IPAddress,
		UserAgent:         &device.UserAgent,
		DeviceFingerprint: &device.Fingerprint,
		City:              &device.Location.City,
		Country:           &device.Location.Country,
		CreatedAt:         now,
	}
}

func boolPtr(b bool) *bool { return &b }
