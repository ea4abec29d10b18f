// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user account disabled")

	// Step-up verification errors. Token lookup misses, expiry, and reuse
	// all surface the same value so the caller cannot distinguish them.
	ErrInvalidVerificationToken = errors.New("invalid or expired verification token")
	ErrVerificationRequired     = errors.New("device verification required")

	// Device errors
	ErrDeviceNotFound = errors.New("trusted device not found")

	// TOTP errors
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")
	ErrTOTPRequired    = errors.New("totp code required")
	ErrInvalidTOTPCode = errors.New("invalid totp code")

	// OAuth errors
	ErrInvalidOAuthState = errors.New("invalid or expired oauth state")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
