// Package model contains the GORM persistence models mirroring the database schema.
package model

import (
	"time"

	"github.com/google/uuid"
)

// UserModel mirrors the 'users' table. PostgreSQL generates UUIDs via uuid_generate_v7().
// The (oauth_provider, oauth_id) pair carries a composite unique index so a
// provider identity can map to at most one user; both columns are nullable for
// password-only accounts.
type UserModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	Email         string    `gorm:"type:varchar(255);unique;not null"`
	Name          string    `gorm:"type:varchar(100)"`
	PasswordHash  *string   `gorm:"type:varchar(255)"`
	OAuthProvider *string   `gorm:"type:varchar(50);uniqueIndex:idx_users_oauth_identity"`
	OAuthID       *string   `gorm:"type:varchar(255);uniqueIndex:idx_users_oauth_identity"`
	EmailVerified bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time `gorm:"index"`

	RefreshTokens []RefreshTokenModel `gorm:"foreignKey:UserID"`
}

// TableName explicitly sets the table name for GORM.
func (UserModel) TableName() string {
	return "users"
}
