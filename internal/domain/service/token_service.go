package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims defines the custom claims for the JWT session tokens.
type Claims struct {
	UserID uuid.UUID
	Type   string // "access" or "refresh"
	jwt.RegisteredClaims
}

// TokenService defines the interface for generating and validating session JWTs.
// This abstracts the details of token creation from the use cases.
type TokenService interface {
	// GenerateTokens creates a new access token and refresh token for a given user.
	GenerateTokens(userID uuid.UUID) (accessToken string, refreshToken string, err error)

	// ValidateAccessToken checks the validity of an access token string.
	ValidateAccessToken(tokenString string) (*Claims, error)

	// ValidateRefreshToken checks the validity of a refresh token string.
	ValidateRefreshToken(tokenString string) (*Claims, error)

	// GetRefreshTokenDuration returns the configured duration for refresh tokens.
	GetRefreshTokenDuration() time.Duration
}
