// Package usecase contains the application-specific business rules.
// It orchestrates the domain layer to perform tasks.
package usecase

import (
	"context"

	"mound/internal/domain/entity"

	"github.com/google/uuid"
)

// --- Input DTOs ---

// RegisterInput defines the data required to register a new account with a password.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput defines the data required for a password login.
type LoginInput struct {
	Email    string
	Password string
	DeviceID string
}

// OAuthLoginInput defines the data required for an OAuth sign-in.
// Provider selects the verifier; IDToken is the provider-issued bearer token.
// DeviceID is optional and only attaches to the issued session.
type OAuthLoginInput struct {
	Provider entity.Provider
	IDToken  string
	DeviceID string
}

// RefreshInput defines the data required to rotate a session.
type RefreshInput struct {
	RefreshToken string
}

// LogoutInput defines the data required to end a session.
type LogoutInput struct {
	RefreshToken string
}

// --- Output DTOs ---

// RegisterOutput returns the newly created user's basic information.
type RegisterOutput struct {
	User *entity.User
}

// LoginOutput returns the generated tokens after a successful authentication.
type LoginOutput struct {
	AccessToken  string
	RefreshToken string
	User         *entity.User
}

// RefreshOutput returns the rotated token pair.
type RefreshOutput struct {
	AccessToken  string
	RefreshToken string
}

// IdentityUsecase defines the interface for account and session operations.
// This is the contract that the delivery layer (e.g., API handlers) will depend on.
type IdentityUsecase interface {
	Register(ctx context.Context, input *RegisterInput) (*RegisterOutput, error)
	Login(ctx context.Context, input *LoginInput) (*LoginOutput, error)
	OAuthLogin(ctx context.Context, input *OAuthLoginInput) (*LoginOutput, error)
	Refresh(ctx context.Context, input *RefreshInput) (*RefreshOutput, error)
	Logout(ctx context.Context, input *LogoutInput) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*entity.User, error)
}
