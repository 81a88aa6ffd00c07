// Package service defines interfaces for core, stateless domain logic.
// These services encapsulate business rules that don't naturally fit within a single entity.
package service

import (
	"context"

	"mound/internal/domain/entity"
)

// IdentityClaim is the normalized set of assertions extracted from a verified
// provider ID token. It is ephemeral, produced once per verification call.
// ProviderID is always present and is only trustworthy when the verification
// that produced the claim succeeded.
type IdentityClaim struct {
	Provider      entity.Provider // The provider that issued the token.
	ProviderID    string          // The provider's stable subject identifier ('sub' claim).
	Email         string          // Optional; Apple omits it on repeat sign-ins.
	Name          string          // Optional; Apple provides it only on first sign-in.
	EmailVerified bool            // Provider-asserted email verification status.
}

// TokenVerifier converts an opaque provider-issued ID token into an
// IdentityClaim, or fails. Implementations exist per provider; each one
// receives its configured client identifier at construction time and reports
// a configuration error at the call site when the identifier is absent.
type TokenVerifier interface {
	// VerifyIDToken validates the token and extracts a normalized claim.
	VerifyIDToken(ctx context.Context, idToken string) (*IdentityClaim, error)

	// Provider returns the provider this verifier handles.
	Provider() entity.Provider
}
