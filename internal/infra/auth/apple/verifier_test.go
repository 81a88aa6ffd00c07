package apple

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"mound/internal/domain/entity"
	domainerrors "mound/internal/domain/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-signing-secret")

func newTestVerifier(clientID string) *Verifier {
	return &Verifier{
		clientID: clientID,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		keyFn: func(_ *jwt.Token) (any, error) {
			return testSecret, nil
		},
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://appleid.apple.com",
		"aud":   "com.example.app",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"sub":   "001234.abcdef",
		"email": "alice@privaterelay.appleid.com",
	}
}

func TestVerifyIDToken_MissingClientID(t *testing.T) {
	v := newTestVerifier("")

	_, err := v.VerifyIDToken(context.Background(), signToken(t, validClaims()))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthNotConfigured))
}

func TestVerifyIDToken_MalformedToken(t *testing.T) {
	v := newTestVerifier("com.example.app")

	_, err := v.VerifyIDToken(context.Background(), "not-a-jwt")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenMalformed))
}

func TestVerifyIDToken_BadSignature(t *testing.T) {
	v := newTestVerifier("com.example.app")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).
		SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	_, err = v.VerifyIDToken(context.Background(), token)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenRejected))
}

func TestVerifyIDToken_InvalidIssuer(t *testing.T) {
	v := newTestVerifier("com.example.app")

	// Issuer is checked before audience and expiry, so even a token that is
	// also expired and addressed to another client reports the issuer error.
	claims := validClaims()
	claims["iss"] = "https://accounts.google.com"
	claims["aud"] = "some-other-client"
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := v.VerifyIDToken(context.Background(), signToken(t, claims))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenRejected))
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestVerifyIDToken_InvalidAudience(t *testing.T) {
	v := newTestVerifier("com.example.app")
	claims := validClaims()
	claims["aud"] = "some-other-client"

	_, err := v.VerifyIDToken(context.Background(), signToken(t, claims))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenRejected))
	assert.Contains(t, err.Error(), "invalid audience")
}

func TestVerifyIDToken_Expired(t *testing.T) {
	v := newTestVerifier("com.example.app")
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	_, err := v.VerifyIDToken(context.Background(), signToken(t, claims))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenRejected))
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyIDToken_MissingSubject(t *testing.T) {
	v := newTestVerifier("com.example.app")
	claims := validClaims()
	delete(claims, "sub")

	_, err := v.VerifyIDToken(context.Background(), signToken(t, claims))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenMalformed))
}

func TestVerifyIDToken_ValidToken(t *testing.T) {
	v := newTestVerifier("com.example.app")
	claims := validClaims()
	claims["email_verified"] = true
	claims["name"] = "Alice"

	claim, err := v.VerifyIDToken(context.Background(), signToken(t, claims))

	require.NoError(t, err)
	assert.Equal(t, entity.ProviderApple, claim.Provider)
	assert.Equal(t, "001234.abcdef", claim.ProviderID)
	assert.Equal(t, "alice@privaterelay.appleid.com", claim.Email)
	assert.Equal(t, "Alice", claim.Name)
	assert.True(t, claim.EmailVerified)
}

func TestVerifyIDToken_EmailVerifiedAsString(t *testing.T) {
	// Apple delivers email_verified as the string "true" on some tokens.
	v := newTestVerifier("com.example.app")
	claims := validClaims()
	claims["email_verified"] = "true"

	claim, err := v.VerifyIDToken(context.Background(), signToken(t, claims))

	require.NoError(t, err)
	assert.True(t, claim.EmailVerified)
}

func TestVerifyIDToken_OptionalClaimsAbsent(t *testing.T) {
	v := newTestVerifier("com.example.app")
	claims := validClaims()
	delete(claims, "email")

	claim, err := v.VerifyIDToken(context.Background(), signToken(t, claims))

	require.NoError(t, err)
	assert.Empty(t, claim.Email)
	assert.Empty(t, claim.Name)
	assert.False(t, claim.EmailVerified)
}
