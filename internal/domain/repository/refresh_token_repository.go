// Package repository defines the interfaces for the persistence layer.
package repository

import (
	"context"
	"errors"

	"mound/internal/domain/entity"
)

// ErrTokenNotFound is returned when a refresh token is not found.
var ErrTokenNotFound = errors.New("refresh token not found")

// RefreshTokenRepository defines the standard operations for session persistence.
type RefreshTokenRepository interface {
	// Create persists a new refresh token, representing a user session.
	Create(ctx context.Context, token *entity.RefreshToken) error

	// FindByHash retrieves a refresh token record by its securely stored hash.
	FindByHash(ctx context.Context, hash string) (*entity.RefreshToken, error)

	// DeleteByHash deletes a refresh token by its hash, effectively ending a session.
	DeleteByHash(ctx context.Context, hash string) error
}
