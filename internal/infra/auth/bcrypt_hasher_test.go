package auth

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"mound/config"
	domainerrors "mound/internal/domain/errors"
)

func newTestHasher() *bcryptHasher {
	cfg := &config.Config{
		Auth: &config.AuthConfig{BcryptCost: bcrypt.MinCost},
	}

	return NewBcryptHasher(cfg).(*bcryptHasher)
}

func TestHashAndCheck(t *testing.T) {
	hasher := newTestHasher()

	hash, err := hasher.Hash("Sup3rSecret")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3rSecret", hash)

	assert.True(t, hasher.Check("Sup3rSecret", hash))
	assert.False(t, hasher.Check("wrong-password", hash))
}

func TestValidatePasswordStrength(t *testing.T) {
	hasher := newTestHasher()

	tests := []struct {
		name     string
		password string
		valid    bool
	}{
		{name: "valid password", password: "Sup3rSecret", valid: true},
		{name: "too short", password: "Ab1", valid: false},
		{name: "missing uppercase", password: "sup3rsecret", valid: false},
		{name: "missing lowercase", password: "SUP3RSECRET", valid: false},
		{name: "missing digit", password: "SuperSecret", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hasher.ValidatePasswordStrength(tt.password)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domainerrors.ErrPasswordStrength))
			}
		})
	}
}

func TestValidatePasswordStrength_CustomPolicy(t *testing.T) {
	cfg := &config.Config{
		PasswordStrength: &config.PasswordStrengthConfig{
			MinLength:      4,
			RequireNumbers: true,
		},
	}
	hasher := NewBcryptHasher(cfg).(*bcryptHasher)

	// Case requirements relaxed, digits still required.
	assert.NoError(t, hasher.ValidatePasswordStrength("1234"))
	assert.Error(t, hasher.ValidatePasswordStrength("abcd"))
}
