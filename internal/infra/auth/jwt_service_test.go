package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mound/config"
)

func newTestJWTService(t *testing.T) *jwtService {
	t.Helper()

	cfg := &config.Config{}
	cfg.SecretKey.Access = "access-secret"
	cfg.SecretKey.Refresh = "refresh-secret"

	svc, err := NewJWTService(cfg)
	require.NoError(t, err)

	return svc.(*jwtService)
}

func TestNewJWTService_MissingSecrets(t *testing.T) {
	_, err := NewJWTService(&config.Config{})
	assert.Error(t, err)
}

func TestGenerateTokens_RoundTrip(t *testing.T) {
	svc := newTestJWTService(t)
	userID := uuid.New()

	access, refresh, err := svc.GenerateTokens(userID)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.NotEqual(t, access, refresh)

	accessClaims, err := svc.ValidateAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, userID, accessClaims.UserID)
	assert.Equal(t, tokenTypeAccess, accessClaims.Type)

	refreshClaims, err := svc.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, userID, refreshClaims.UserID)
	assert.Equal(t, tokenTypeRefresh, refreshClaims.Type)
}

func TestValidateAccessToken_RejectsRefreshToken(t *testing.T) {
	svc := newTestJWTService(t)

	_, refresh, err := svc.GenerateTokens(uuid.New())
	require.NoError(t, err)

	// Refresh tokens are signed with a different secret, so the access
	// validation fails on the signature before the type check matters.
	_, err = svc.ValidateAccessToken(refresh)
	assert.Error(t, err)
}

func TestValidateRefreshToken_RejectsAccessToken(t *testing.T) {
	svc := newTestJWTService(t)

	access, _, err := svc.GenerateTokens(uuid.New())
	require.NoError(t, err)

	_, err = svc.ValidateRefreshToken(access)
	assert.Error(t, err)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	svc := newTestJWTService(t)

	_, err := svc.ValidateAccessToken("not.a.token")
	assert.Error(t, err)
}
