// Package validator wraps go-playground/validator with request-friendly output.
package validator

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		// Format validation errors
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for frontend usage
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "email":
					msg = "Invalid email address"
				case "min":
					msg = fmt.Sprintf("Must be at least %s characters", e.Param())
				case "max":
					msg = fmt.Sprintf("Must be at most %s characters", e.Param())
				case "fingerprint":
					msg = "Invalid device fingerprint"
				case "totp_code":
					msg = "Invalid one-time code format"
				}
				errs[e.Field()] = msg
			}
		}
	}
	return errs
}

var (
	fingerprintPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
	totpCodePattern    = regexp.MustCompile(`^[0-9]{6}$`)
)

func (v *Validator) registerCustomValidations() {
	// Device fingerprints are lowercase hex SHA-256 digests.
	_ = v.validate.RegisterValidation("fingerprint", func(fl validator.FieldLevel) bool {
		return fingerprintPattern.MatchString(fl.Field().String())
	})

	// TOTP codes are six decimal digits.
	_ = v.validate.RegisterValidation("totp_code", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || totpCodePattern.MatchString(s)
	})
}
