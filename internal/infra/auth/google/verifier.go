// Package google verifies Google Sign-In ID tokens.
package google

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mound/config"
	"mound/internal/domain/entity"
	domainerrors "mound/internal/domain/errors"
	"mound/internal/domain/service"

	"google.golang.org/api/idtoken"
)

// validateFunc matches idtoken.Validate. It is a field so tests can substitute
// the network-bound verification with a local fake.
type validateFunc func(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)

// Verifier implements service.TokenVerifier for Google.
// Signature and audience verification is delegated to Google's token
// validation endpoint via google.golang.org/api/idtoken, which checks the
// token against Google's published public keys.
type Verifier struct {
	clientID string
	validate validateFunc
	logger   *slog.Logger
}

// NewVerifier is the constructor for the Google token verifier. The client ID
// is injected from configuration; when it is absent the verifier stays
// constructed but fails closed on every call.
func NewVerifier(cfg *config.Config, logger *slog.Logger) service.TokenVerifier {
	clientID := ""
	if cfg.GoogleOAuth != nil {
		clientID = cfg.GoogleOAuth.ClientID
	}

	return &Verifier{
		clientID: clientID,
		validate: idtoken.Validate,
		logger:   logger,
	}
}

// Provider returns the provider this verifier handles.
func (v *Verifier) Provider() entity.Provider {
	return entity.ProviderGoogle
}

// VerifyIDToken validates a Google ID token and extracts a normalized claim.
func (v *Verifier) VerifyIDToken(ctx context.Context, idToken string) (*service.IdentityClaim, error) {
	if v.clientID == "" {
		return nil, domainerrors.ErrOAuthNotConfigured.WrapMessage("google OAuth client ID is not configured")
	}

	payload, err := v.validate(ctx, idToken, v.clientID)
	if err != nil {
		v.logger.Warn("Google ID token validation failed", slog.Any("error", err))

		return nil, domainerrors.ErrOAuthTokenRejected.WrapMessage(
			fmt.Sprintf("google ID token validation failed: %v", err))
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, domainerrors.ErrOAuthTokenMalformed.WrapMessage("verified google token carries no email claim")
	}

	name, _ := payload.Claims["name"].(string)
	if name == "" {
		// Fall back to the local part of the email.
		name = strings.SplitN(email, "@", 2)[0]
	}

	emailVerified, _ := payload.Claims["email_verified"].(bool)

	claim := &service.IdentityClaim{
		Provider:      entity.ProviderGoogle,
		ProviderID:    payload.Subject,
		Email:         email,
		Name:          name,
		EmailVerified: emailVerified,
	}

	v.logger.Debug("Google ID token verified",
		slog.String("providerID", claim.ProviderID),
		slog.String("email", claim.Email))

	return claim, nil
}
