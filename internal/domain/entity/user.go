// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// User is the core entity in the system, representing a unique account on the
// coaching platform. An account may carry a password credential, a linked OAuth
// identity, or both (an account that started with a password and later linked a
// provider). At most one external identity can be linked to a user.
type User struct {
	ID            uuid.UUID // The unique identifier for the user.
	Email         string    // The user's primary email, unique across all users.
	Name          string    // The user's display name.
	PasswordHash  *string   // Bcrypt hash of the password. Nil for pure-OAuth accounts.
	OAuthProvider *Provider // The linked external provider, if any.
	OAuthID       *string   // The provider's stable subject identifier ('sub' claim).
	EmailVerified bool      // Whether the email has been verified, locally or by a provider.
	CreatedAt     time.Time // Timestamp of when this account was created.
	UpdatedAt     time.Time // Timestamp of the last modification to this account.
}

// HasPassword reports whether the account carries a password credential.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// HasLinkedIdentity reports whether an external provider identity is linked.
func (u *User) HasLinkedIdentity() bool {
	return u.OAuthProvider != nil && u.OAuthID != nil
}

// LinkIdentity attaches an external provider identity to the account.
func (u *User) LinkIdentity(provider Provider, providerID string) {
	u.OAuthProvider = &provider
	u.OAuthID = &providerID
}
