package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"trustgate/internal/devicetrust"
	"trustgate/internal/middleware"
	tgerrors "trustgate/pkg/errors"
	"trustgate/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// DeviceHandler exposes self-service and administrative trusted-device
// management.
type DeviceHandler struct {
	trust     *devicetrust.Service
	validator *validator.Validator
}

func NewDeviceHandler(trust *devicetrust.Service, val *validator.Validator) *DeviceHandler {
	return &DeviceHandler{trust: trust, validator: val}
}

// ListDevices returns the authenticated user's trusted devices.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	devices, err := h.trust.ListDevices(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list devices")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// RemoveDevice revokes trust for one of the authenticated user's own
// devices. Existing sessions stay valid until their own expiry.
func (h *DeviceHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	fingerprint := mux.Vars(r)["fingerprint"]
	h.removeDevice(w, r, userID, fingerprint)
}

type trustDeviceRequest struct {
	Fingerprint string  `json:"fingerprint" validate:"required,fingerprint"`
	DeviceName  *string `json:"device_name,omitempty"`
}

// AdminTrustDevice grants trust directly, bypassing the verification token
// flow. Support workflow only; records a distinct audit event.
func (h *DeviceHandler) AdminTrustDevice(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req trustDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := devicetrust.ClientIP(r)
	if err := h.trust.TrustDevice(r.Context(), targetID, req.Fingerprint, ip, req.DeviceName); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to trust device")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "trusted"})
}

// AdminUserSecurity summarizes a user's device trust posture: trusted
// devices plus any step-up verifications still pending.
func (h *DeviceHandler) AdminUserSecurity(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	devices, err := h.trust.ListDevices(r.Context(), targetID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load devices")
		return
	}

	outstanding, err := h.trust.OutstandingVerifications(r.Context(), targetID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count pending verifications")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices":                   devices,
		"outstanding_verifications": outstanding,
	})
}

// AdminRemoveDevice revokes trust on behalf of a user.
func (h *DeviceHandler) AdminRemoveDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	targetID, err := uuid.Parse(vars["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	h.removeDevice(w, r, targetID, vars["fingerprint"])
}

func (h *DeviceHandler) removeDevice(w http.ResponseWriter, r *http.Request, userID uuid.UUID, fingerprint string) {
	if fingerprint == "" {
		respondError(w, http.StatusBadRequest, "Fingerprint is required")
		return
	}

	if err := h.trust.RemoveTrustedDevice(r.Context(), userID, fingerprint); err != nil {
		if errors.Is(err, tgerrors.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, "Device not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to remove device")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
