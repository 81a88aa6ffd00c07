package google

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"mound/internal/domain/entity"
	domainerrors "mound/internal/domain/errors"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier(clientID string, validate validateFunc) *Verifier {
	return &Verifier{
		clientID: clientID,
		validate: validate,
		logger:   discardLogger(),
	}
}

func staticPayload(payload *idtoken.Payload) validateFunc {
	return func(_ context.Context, _ string, _ string) (*idtoken.Payload, error) {
		return payload, nil
	}
}

func TestVerifyIDToken_MissingClientID(t *testing.T) {
	v := newTestVerifier("", staticPayload(&idtoken.Payload{}))

	_, err := v.VerifyIDToken(context.Background(), "token")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthNotConfigured))
}

func TestVerifyIDToken_ValidationFailure(t *testing.T) {
	v := newTestVerifier("client-id", func(_ context.Context, _ string, _ string) (*idtoken.Payload, error) {
		return nil, errors.New("idtoken: audience provided does not match aud claim in the JWT")
	})

	_, err := v.VerifyIDToken(context.Background(), "token")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenRejected))
	assert.Contains(t, err.Error(), "audience")
}

func TestVerifyIDToken_MissingEmail(t *testing.T) {
	v := newTestVerifier("client-id", staticPayload(&idtoken.Payload{
		Subject: "g-123",
		Claims:  map[string]any{},
	}))

	_, err := v.VerifyIDToken(context.Background(), "token")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrOAuthTokenMalformed))
}

func TestVerifyIDToken_NameDefaultsToEmailLocalPart(t *testing.T) {
	v := newTestVerifier("client-id", staticPayload(&idtoken.Payload{
		Subject: "g-123",
		Claims: map[string]any{
			"email":          "alice@example.com",
			"email_verified": true,
		},
	}))

	claim, err := v.VerifyIDToken(context.Background(), "token")

	require.NoError(t, err)
	assert.Equal(t, entity.ProviderGoogle, claim.Provider)
	assert.Equal(t, "g-123", claim.ProviderID)
	assert.Equal(t, "alice@example.com", claim.Email)
	assert.Equal(t, "alice", claim.Name)
	assert.True(t, claim.EmailVerified)
}

func TestVerifyIDToken_UsesNameWhenPresent(t *testing.T) {
	v := newTestVerifier("client-id", staticPayload(&idtoken.Payload{
		Subject: "g-123",
		Claims: map[string]any{
			"email": "alice@example.com",
			"name":  "Alice Example",
		},
	}))

	claim, err := v.VerifyIDToken(context.Background(), "token")

	require.NoError(t, err)
	assert.Equal(t, "Alice Example", claim.Name)

	// email_verified absent defaults to false.
	assert.False(t, claim.EmailVerified)
}
