// Package auth implements primary authentication: registration, password
// and OAuth login, TOTP, and session token issuance. Step-up device
// verification sits between the credential check and token issuance, so
// Login returns the authenticated user and IssueTokens is a separate step.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"trustgate/internal/domain"
	tgerrors "trustgate/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// Repository is the credential-store access this service needs.
type Repository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByOAuthSubject(ctx context.Context, provider, subject string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, user *domain.User) error
	SetTOTP(ctx context.Context, id uuid.UUID, secret *string, enabled bool) error
}

// AuditRecorder appends security audit events.
type AuditRecorder interface {
	Create(ctx context.Context, event *domain.SecurityAuditEvent) error
}

// Service provides registration, login, TOTP, and token issuance.
type Service struct {
	repo      Repository
	audit     AuditRecorder
	jwtSecret string
	jwtExpiry time.Duration
	issuer    string
}

func NewService(repo Repository, audit AuditRecorder, jwtSecret string, jwtExpiry time.Duration) *Service {
	return &Service{
		repo:      repo,
		audit:     audit,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
		issuer:    "trustgate",
	}
}

// RegisterRequest captures the fields required to create a new user.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
}

// LoginRequest captures credentials for login. TOTPCode is required only
// for users with TOTP enabled.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totp_code,omitempty" validate:"totp_code"`
}

// TokenResponse is returned once a login is fully authorized.
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *domain.User `json:"user"`
}

// Register creates a new user. The caller still runs device analysis before
// issuing tokens, exactly as with login.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*domain.User, error) {
	exists, err := s.repo.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, tgerrors.ErrUserAlreadyExists
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	hash := string(passwordHash)

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: &hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		UserType:     domain.UserTypeMember,
		RiskScore:    decimal.Zero,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		// Unique constraint race on email.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, tgerrors.ErrUserAlreadyExists
		}
		return nil, err
	}

	return user, nil
}

// Login verifies the primary credential (password, plus TOTP when enrolled)
// and returns the user. It does NOT issue tokens; the caller must run device
// risk analysis first and call IssueTokens only when the attempt clears it.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*domain.User, error) {
	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, tgerrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, tgerrors.ErrUserDisabled
	}
	if user.PasswordHash == nil {
		// OAuth-only account.
		return nil, tgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, tgerrors.ErrInvalidCredentials
	}

	if user.IsTOTPEnabled {
		if req.TOTPCode == "" {
			return nil, tgerrors.ErrTOTPRequired
		}
		if user.TOTPSecret == nil || !totp.Validate(req.TOTPCode, *user.TOTPSecret) {
			return nil, tgerrors.ErrInvalidTOTPCode
		}
	}

	return user, nil
}

// LoginWithGoogle resolves or provisions a user for a verified Google
// profile. Linking by email is allowed: the address was verified by Google.
func (s *Service) LoginWithGoogle(ctx context.Context, profile *GoogleProfile) (*domain.User, error) {
	user, err := s.repo.FindByOAuthSubject(ctx, "google", profile.Subject)
	if err == nil {
		if !user.IsActive {
			return nil, tgerrors.ErrUserDisabled
		}
		return user, nil
	}
	if !errors.Is(err, tgerrors.ErrUserNotFound) {
		return nil, err
	}

	provider := "google"
	subject := profile.Subject

	user, err = s.repo.FindByEmail(ctx, profile.Email)
	if err == nil {
		if !user.IsActive {
			return nil, tgerrors.ErrUserDisabled
		}
		user.OAuthProvider = &provider
		user.OAuthSubject = &subject
		if err := s.repo.Update(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}
	if !errors.Is(err, tgerrors.ErrUserNotFound) {
		return nil, err
	}

	now := time.Now()
	user = &domain.User{
		ID:            uuid.New(),
		Email:         profile.Email,
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		UserType:      domain.UserTypeMember,
		OAuthProvider: &provider,
		OAuthSubject:  &subject,
		RiskScore:     decimal.Zero,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// IssueTokens mints the session credential once a login is fully authorized
// and records the user's last login time.
func (s *Service) IssueTokens(ctx context.Context, user *domain.User) (*TokenResponse, error) {
	now := time.Now()
	user.LastLogin = &now
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	return s.generateTokens(user)
}

// FindUser loads a user by ID.
func (s *Service) FindUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.repo.FindByID(ctx, id)
}

// SetupTOTP generates and stores a TOTP secret for the user, disabled until
// EnableTOTP confirms a valid code. Returns the secret and provisioning URL.
func (s *Service) SetupTOTP(ctx context.Context, userID uuid.UUID) (secret, url string, err error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return "", "", err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp key: %w", err)
	}

	sec := key.Secret()
	if err := s.repo.SetTOTP(ctx, userID, &sec, false); err != nil {
		return "", "", err
	}
	return sec, key.URL(), nil
}

// EnableTOTP confirms the user's first valid code and turns enforcement on.
func (s *Service) EnableTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPSecret == nil {
		return tgerrors.ErrTOTPNotEnrolled
	}
	if !totp.Validate(code, *user.TOTPSecret) {
		return tgerrors.ErrInvalidTOTPCode
	}

	if err := s.repo.SetTOTP(ctx, userID, user.TOTPSecret, true); err != nil {
		return err
	}

	if s.audit != nil {
		ok := true
		event := &domain.SecurityAuditEvent{
			ID:        uuid.New(),
			UserID:    &userID,
			EventKind: domain.EventTOTPEnabled,
			Success:   &ok,
			CreatedAt: time.Now(),
		}
		// Best effort; enabling TOTP is not blocked by audit failures.
		_ = s.audit.Create(ctx, event)
	}
	return nil
}

func (s *Service) generateTokens(user *domain.User) (*TokenResponse, error) {
	expiresAt := time.Now().Add(s.jwtExpiry)

	claims := jwt.MapClaims{
		"user_id":   user.ID.String(),
		"email":     user.Email,
		"user_type": user.UserType,
		"exp":       expiresAt.Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	refreshToken, err := generateRandomToken(32)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func generateRandomToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
