package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_HasPassword(t *testing.T) {
	var user User
	assert.False(t, user.HasPassword())

	empty := ""
	user.PasswordHash = &empty
	assert.False(t, user.HasPassword())

	hash := "$2a$10$abcdefghijklmnopqrstuv"
	user.PasswordHash = &hash
	assert.True(t, user.HasPassword())
}

func TestUser_LinkIdentity(t *testing.T) {
	var user User
	assert.False(t, user.HasLinkedIdentity())

	user.LinkIdentity(ProviderGoogle, "g-123")

	assert.True(t, user.HasLinkedIdentity())
	assert.Equal(t, ProviderGoogle, *user.OAuthProvider)
	assert.Equal(t, "g-123", *user.OAuthID)
}
