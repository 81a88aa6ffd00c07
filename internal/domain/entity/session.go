// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken represents a long-lived, authorized user session.
// It is used to obtain a new Access Token after the old one expires, without requiring credentials.
type RefreshToken struct {
	ID        uuid.UUID // The unique ID for this specific refresh token record.
	UserID    uuid.UUID // Links this session to the User it belongs to.
	TokenHash string    // Stores a SHA-256 hash of the raw refresh token for secure comparison in the database.
	DeviceID  *string   // Opaque client device identifier, when the client reports one.
	ExpiresAt time.Time // The exact time when this refresh token will expire and become invalid.
	CreatedAt time.Time // Timestamp of when this session was created (i.e., when the user logged in).
}
