package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"trustgate/internal/auth"
	"trustgate/internal/devicetrust"
	"trustgate/internal/domain"
	"trustgate/internal/middleware"
	"trustgate/internal/notification"
	tgerrors "trustgate/pkg/errors"
	"trustgate/pkg/logger"
	"trustgate/pkg/validator"
)

// AuthHandler handles authentication endpoints. Every login path runs device
// risk analysis between the credential check and token issuance.
type AuthHandler struct {
	service     *auth.Service
	oauth       *auth.GoogleOAuth
	trust       *devicetrust.Service
	notifier    *notification.Service
	fingerprint *devicetrust.Fingerprinter
	validator   *validator.Validator
	logger      logger.Logger
}

func NewAuthHandler(service *auth.Service, oauth *auth.GoogleOAuth, trust *devicetrust.Service, notifier *notification.Service, fp *devicetrust.Fingerprinter, val *validator.Validator, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		service:     service,
		oauth:       oauth,
		trust:       trust,
		notifier:    notifier,
		fingerprint: fp,
		validator:   val,
		logger:      log,
	}
}

// Register creates a user and runs the same step-up gate as login, so a
// fresh account's first device is verified by email up front.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), &req)
	if err != nil {
		if errors.Is(err, tgerrors.ErrUserAlreadyExists) {
			respondError(w, http.StatusConflict, "User already exists")
			return
		}
		h.logger.Error("Registration failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	h.completeLogin(w, r, user, http.StatusCreated)
}

// Login authenticates a user. Responds with tokens, or with a pending status
// when device verification is required.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device := h.fingerprint.Extract(r)

	user, err := h.service.Login(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, tgerrors.ErrTOTPRequired):
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error":  "TOTP code required",
				"status": "totp_required",
			})
		default:
			h.trust.RecordLoginFailure(r.Context(), nil, device, "invalid credentials")
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
		}
		return
	}

	h.completeLogin(w, r, user, http.StatusOK)
}

// completeLogin runs risk analysis for an authenticated user and either
// issues tokens or kicks off step-up verification.
func (h *AuthHandler) completeLogin(w http.ResponseWriter, r *http.Request, user *domain.User, okStatus int) {
	device := h.fingerprint.Extract(r)

	result, err := h.trust.AnalyzeLoginSecurity(r.Context(), user.ID, device)
	if err != nil {
		// Fail closed: an attempt that cannot be scored and tokenized is
		// not allowed through.
		h.logger.Error("risk analysis failed", map[string]interface{}{
			"user_id": user.ID, "error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "Login could not be completed")
		return
	}

	if result.RequiresVerification {
		if err := h.trust.AttachEmail(r.Context(), result.VerificationToken, user.Email); err != nil {
			h.logger.Warn("failed to attach email to token", map[string]interface{}{
				"user_id": user.ID, "error": err.Error(),
			})
		}

		// Delivery failure does not invalidate the token, and the response
		// is the same either way so the client learns nothing extra.
		h.notifier.SendDeviceVerificationEmail(r.Context(), user.Email, user.DisplayName(), result.VerificationToken, device)

		respondJSON(w, http.StatusAccepted, map[string]string{
			"status":  "verification_required",
			"message": "Check your email to verify this device",
		})
		return
	}

	tokens, err := h.service.IssueTokens(r.Context(), user)
	if err != nil {
		h.logger.Error("token issuance failed", map[string]interface{}{
			"user_id": user.ID, "error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "Login could not be completed")
		return
	}

	h.trust.RecordLoginSuccess(r.Context(), user.ID, device)
	respondJSON(w, okStatus, tokens)
}

// VerifyDevice redeems an emailed verification token and, on success, issues
// the session credential the original login withheld.
func (h *AuthHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "Token is required")
		return
	}

	userID, err := h.trust.VerifyDeviceToken(r.Context(), token)
	if err != nil {
		// Expired, already used, and unknown all look the same.
		respondError(w, http.StatusBadRequest, "Invalid or expired verification token")
		return
	}

	user, err := h.service.FindUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Verification could not be completed")
		return
	}

	tokens, err := h.service.IssueTokens(r.Context(), user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Verification could not be completed")
		return
	}

	device := h.fingerprint.Extract(r)
	h.trust.RecordLoginSuccess(r.Context(), user.ID, device)

	respondJSON(w, http.StatusOK, tokens)
}

// GoogleStart redirects the client to Google's consent screen.
func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	url, err := h.oauth.AuthURL(r.Context())
	if err != nil {
		h.logger.Error("oauth start failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "OAuth is unavailable")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// GoogleCallback completes the code flow, then runs the same device gate as
// password login.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		respondError(w, http.StatusBadRequest, "Missing state or code")
		return
	}

	profile, err := h.oauth.Exchange(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, tgerrors.ErrInvalidOAuthState) {
			respondError(w, http.StatusBadRequest, "Invalid or expired OAuth state")
			return
		}
		h.logger.Error("oauth exchange failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusBadGateway, "OAuth exchange failed")
		return
	}

	user, err := h.service.LoginWithGoogle(r.Context(), profile)
	if err != nil {
		if errors.Is(err, tgerrors.ErrUserDisabled) {
			respondError(w, http.StatusForbidden, "Account disabled")
			return
		}
		h.logger.Error("oauth login failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "Login could not be completed")
		return
	}

	h.completeLogin(w, r, user, http.StatusOK)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.service.FindUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// TOTPSetup generates a pending TOTP secret for the authenticated user.
func (h *AuthHandler) TOTPSetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	secret, url, err := h.service.SetupTOTP(r.Context(), userID)
	if err != nil {
		h.logger.Error("totp setup failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "TOTP setup failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"secret":           secret,
		"provisioning_url": url,
	})
}

// TOTPEnable confirms the first valid code and turns enforcement on.
func (h *AuthHandler) TOTPEnable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Code string `json:"code" validate:"required,totp_code"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.EnableTOTP(r.Context(), userID, req.Code); err != nil {
		switch {
		case errors.Is(err, tgerrors.ErrTOTPNotEnrolled):
			respondError(w, http.StatusConflict, "TOTP setup required first")
		case errors.Is(err, tgerrors.ErrInvalidTOTPCode):
			respondError(w, http.StatusBadRequest, "Invalid code")
		default:
			respondError(w, http.StatusInternalServerError, "TOTP enable failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
