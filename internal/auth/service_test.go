package auth

import (
	"context"
	"testing"
	"time"

	"trustgate/internal/domain"
	tgerrors "trustgate/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRepository) FindByOAuthSubject(ctx context.Context, provider, subject string) (*domain.User, error) {
	args := m.Called(ctx, provider, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockRepository) SetTOTP(ctx context.Context, id uuid.UUID, secret *string, enabled bool) error {
	args := m.Called(ctx, id, secret, enabled)
	return args.Error(0)
}

type MockAuditRecorder struct {
	mock.Mock
}

func (m *MockAuditRecorder) Create(ctx context.Context, event *domain.SecurityAuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func hashOf(t *testing.T, password string) *string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	assert.NoError(t, err)
	s := string(h)
	return &s
}

func activeUser(t *testing.T, password string) *domain.User {
	return &domain.User{
		ID:           uuid.New(),
		Email:        "jamie@example.com",
		PasswordHash: hashOf(t, password),
		FirstName:    "Jamie",
		LastName:     "Doe",
		UserType:     domain.UserTypeMember,
		IsActive:     true,
	}
}

func TestRegister_Success(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	repo.On("ExistsByEmail", mock.Anything, "new@example.com").Return(false, nil)

	var created *domain.User
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*domain.User)
		}).Return(nil)

	user, err := s.Register(context.Background(), &RegisterRequest{
		Email:     "new@example.com",
		Password:  "correct-horse",
		FirstName: "New",
		LastName:  "User",
	})

	assert.NoError(t, err)
	assert.NotNil(t, user)
	assert.Equal(t, domain.UserTypeMember, user.UserType)
	assert.True(t, user.IsActive)
	assert.NotNil(t, created.PasswordHash)
	assert.NotEqual(t, "correct-horse", *created.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*created.PasswordHash), []byte("correct-horse")))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	repo.On("ExistsByEmail", mock.Anything, "taken@example.com").Return(true, nil)

	user, err := s.Register(context.Background(), &RegisterRequest{
		Email:     "taken@example.com",
		Password:  "correct-horse",
		FirstName: "New",
		LastName:  "User",
	})

	assert.ErrorIs(t, err, tgerrors.ErrUserAlreadyExists)
	assert.Nil(t, user)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestLogin_Success(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	u := activeUser(t, "correct-horse")
	repo.On("FindByEmail", mock.Anything, u.Email).Return(u, nil)

	got, err := s.Login(context.Background(), &LoginRequest{Email: u.Email, Password: "correct-horse"})

	assert.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	// Login never issues tokens; the caller gates that on device analysis.
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	u := activeUser(t, "correct-horse")
	repo.On("FindByEmail", mock.Anything, u.Email).Return(u, nil)

	got, err := s.Login(context.Background(), &LoginRequest{Email: u.Email, Password: "wrong"})

	assert.ErrorIs(t, err, tgerrors.ErrInvalidCredentials)
	assert.Nil(t, got)
}

func TestLogin_UnknownEmailSameError(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	repo.On("FindByEmail", mock.Anything, "nobody@example.com").Return(nil, tgerrors.ErrUserNotFound)

	_, err := s.Login(context.Background(), &LoginRequest{Email: "nobody@example.com", Password: "x"})

	assert.ErrorIs(t, err, tgerrors.ErrInvalidCredentials)
}

func TestLogin_DisabledUser(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	u := activeUser(t, "correct-horse")
	u.IsActive = false
	repo.On("FindByEmail", mock.Anything, u.Email).Return(u, nil)

	_, err := s.Login(context.Background(), &LoginRequest{Email: u.Email, Password: "correct-horse"})

	assert.ErrorIs(t, err, tgerrors.ErrUserDisabled)
}

func TestLogin_OAuthOnlyAccount(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	u := activeUser(t, "correct-horse")
	u.PasswordHash = nil
	repo.On("FindByEmail", mock.Anything, u.Email).Return(u, nil)

	_, err := s.Login(context.Background(), &LoginRequest{Email: u.Email, Password: "correct-horse"})

	assert.ErrorIs(t, err, tgerrors.ErrInvalidCredentials)
}

func TestLogin_TOTPGate(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "trustgate", AccountName: "jamie@example.com"})
	assert.NoError(t, err)
	secret := key.Secret()

	u := activeUser(t, "correct-horse")
	u.TOTPSecret = &secret
	u.IsTOTPEnabled = true
	repo.On("FindByEmail", mock.Anything, u.Email).Return(u, nil)

	// No code supplied.
	_, err = s.Login(context.Background(), &LoginRequest{Email: u.Email, Password: "correct-horse"})
	assert.ErrorIs(t, err, tgerrors.ErrTOTPRequired)

	// Wrong code.
	_, err = s.Login(context.Background(), &LoginRequest{Email: u.Email, Password: "correct-horse", TOTPCode: "000000"})
	assert.ErrorIs(t, err, tgerrors.ErrInvalidTOTPCode)

	// Valid code.
	code, err := totp.GenerateCode(secret, time.Now())
	assert.NoError(t, err)
	got, err := s.Login(context.Background(), &LoginRequest{Email: u.Email, Password: "correct-horse", TOTPCode: code})
	assert.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestIssueTokens_ClaimsAndLastLogin(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "signing-secret", time.Hour)

	u := activeUser(t, "correct-horse")
	u.UserType = domain.UserTypeAdmin
	repo.On("Update", mock.Anything, u).Return(nil)

	resp, err := s.IssueTokens(context.Background(), u)

	assert.NoError(t, err)
	assert.NotNil(t, u.LastLogin)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, 5*time.Second)

	parsed, err := jwt.Parse(resp.AccessToken, func(token *jwt.Token) (interface{}, error) {
		return []byte("signing-secret"), nil
	})
	assert.NoError(t, err)
	assert.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, u.ID.String(), claims["user_id"])
	assert.Equal(t, u.Email, claims["email"])
	assert.Equal(t, string(domain.UserTypeAdmin), claims["user_type"])
}

func TestLoginWithGoogle_ExistingSubject(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	u := activeUser(t, "unused")
	repo.On("FindByOAuthSubject", mock.Anything, "google", "sub-1").Return(u, nil)

	got, err := s.LoginWithGoogle(context.Background(), &GoogleProfile{Subject: "sub-1", Email: u.Email})

	assert.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestLoginWithGoogle_LinksByEmail(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	u := activeUser(t, "unused")
	repo.On("FindByOAuthSubject", mock.Anything, "google", "sub-1").Return(nil, tgerrors.ErrUserNotFound)
	repo.On("FindByEmail", mock.Anything, u.Email).Return(u, nil)
	repo.On("Update", mock.Anything, u).Return(nil)

	got, err := s.LoginWithGoogle(context.Background(), &GoogleProfile{Subject: "sub-1", Email: u.Email})

	assert.NoError(t, err)
	assert.NotNil(t, got.OAuthProvider)
	assert.Equal(t, "google", *got.OAuthProvider)
	assert.Equal(t, "sub-1", *got.OAuthSubject)
}

func TestLoginWithGoogle_ProvisionsNewUser(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	repo.On("FindByOAuthSubject", mock.Anything, "google", "sub-2").Return(nil, tgerrors.ErrUserNotFound)
	repo.On("FindByEmail", mock.Anything, "fresh@example.com").Return(nil, tgerrors.ErrUserNotFound)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return u.Email == "fresh@example.com" && u.PasswordHash == nil && u.IsActive
	})).Return(nil)

	got, err := s.LoginWithGoogle(context.Background(), &GoogleProfile{
		Subject:   "sub-2",
		Email:     "fresh@example.com",
		FirstName: "Fresh",
		LastName:  "User",
	})

	assert.NoError(t, err)
	assert.Equal(t, "fresh@example.com", got.Email)
	assert.Nil(t, got.PasswordHash)
}

func TestEnableTOTP(t *testing.T) {
	repo := new(MockRepository)
	audit := new(MockAuditRecorder)
	s := NewService(repo, audit, "secret", time.Hour)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "trustgate", AccountName: "jamie@example.com"})
	assert.NoError(t, err)
	secret := key.Secret()

	u := activeUser(t, "unused")
	u.TOTPSecret = &secret
	repo.On("FindByID", mock.Anything, u.ID).Return(u, nil)
	repo.On("SetTOTP", mock.Anything, u.ID, &secret, true).Return(nil)
	audit.On("Create", mock.Anything, mock.MatchedBy(func(e *domain.SecurityAuditEvent) bool {
		return e.EventKind == domain.EventTOTPEnabled
	})).Return(nil)

	code, err := totp.GenerateCode(secret, time.Now())
	assert.NoError(t, err)

	assert.NoError(t, s.EnableTOTP(context.Background(), u.ID, code))
	repo.AssertExpectations(t)
}

func TestEnableTOTP_NotEnrolled(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	u := activeUser(t, "unused")
	repo.On("FindByID", mock.Anything, u.ID).Return(u, nil)

	err := s.EnableTOTP(context.Background(), u.ID, "123456")

	assert.ErrorIs(t, err, tgerrors.ErrTOTPNotEnrolled)
}

func TestEnableTOTP_WrongCode(t *testing.T) {
	repo := new(MockRepository)
	s := NewService(repo, nil, "secret", time.Hour)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "trustgate", AccountName: "jamie@example.com"})
	assert.NoError(t, err)
	secret := key.Secret()

	u := activeUser(t, "unused")
	u.TOTPSecret = &secret
	repo.On("FindByID", mock.Anything, u.ID).Return(u, nil)

	err = s.EnableTOTP(context.Background(), u.ID, "000000")

	assert.ErrorIs(t, err, tgerrors.ErrInvalidTOTPCode)
	repo.AssertNotCalled(t, "SetTOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
