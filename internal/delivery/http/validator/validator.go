// Package validator adapts go-playground/validator to echo's Validator interface.
package validator

import (
	domainerrors "mound/internal/domain/errors"

	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps a validator.Validate instance for echo.
type CustomValidator struct {
	validate *validator.Validate
}

// New creates a CustomValidator with struct tag validation enabled.
func New() *CustomValidator {
	return &CustomValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate implements echo.Validator. Failures surface as the domain's
// validation error so the central error handler maps them to 400.
func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validate.Struct(i); err != nil {
		return domainerrors.ErrValidationFailed.WithDetails(err.Error())
	}

	return nil
}
