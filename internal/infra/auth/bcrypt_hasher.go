// Package auth provides concrete implementations for authentication-related domain services.
package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"mound/config"
	domainerrors "mound/internal/domain/errors"
	"mound/internal/domain/service"
)

// bcryptHasher is a concrete implementation of the PasswordHasher interface using bcrypt.
type bcryptHasher struct {
	cost     int
	strength *config.PasswordStrengthConfig
}

// NewBcryptHasher is the constructor for bcryptHasher.
// It returns the implementation as a service.PasswordHasher interface.
func NewBcryptHasher(cfg *config.Config) service.PasswordHasher {
	cost := bcrypt.DefaultCost
	if cfg.Auth != nil && cfg.Auth.BcryptCost >= bcrypt.MinCost && cfg.Auth.BcryptCost <= bcrypt.MaxCost {
		cost = cfg.Auth.BcryptCost
	}

	return &bcryptHasher{
		cost:     cost,
		strength: cfg.PasswordStrength,
	}
}

// Hash generates a salted hash from a plaintext password using bcrypt.
// bcrypt automatically handles salt generation.
func (h *bcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", domainerrors.ErrPasswordHashFailed.WrapMessage("bcrypt hashing failed")
	}

	return string(bytes), nil
}

// Check compares a plaintext password with a bcrypt hash.
func (h *bcryptHasher) Check(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordStrength checks a plaintext password against the configured policy.
func (h *bcryptHasher) ValidatePasswordStrength(password string) error {
	minLength, maxLength := 8, 72 // bcrypt truncates beyond 72 bytes
	requireUpper, requireLower, requireNumbers := true, true, true
	if h.strength != nil {
		if h.strength.MinLength > 0 {
			minLength = h.strength.MinLength
		}
		if h.strength.MaxLength > 0 {
			maxLength = h.strength.MaxLength
		}
		requireUpper = h.strength.RequireUppercase
		requireLower = h.strength.RequireLowercase
		requireNumbers = h.strength.RequireNumbers
	}

	if len(password) < minLength {
		return domainerrors.ErrPasswordStrength.WrapMessage("password is too short")
	}
	if len(password) > maxLength {
		return domainerrors.ErrPasswordStrength.WrapMessage("password is too long")
	}

	var hasUpper, hasLower, hasNumber bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		}
	}

	if requireUpper && !hasUpper {
		return domainerrors.ErrPasswordStrength.WrapMessage("password needs an uppercase letter")
	}
	if requireLower && !hasLower {
		return domainerrors.ErrPasswordStrength.WrapMessage("password needs a lowercase letter")
	}
	if requireNumbers && !hasNumber {
		return domainerrors.ErrPasswordStrength.WrapMessage("password needs a digit")
	}

	return nil
}
