// Package apple verifies Sign in with Apple ID tokens.
package apple

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"mound/config"
	"mound/internal/domain/entity"
	domainerrors "mound/internal/domain/errors"
	"mound/internal/domain/service"
	"mound/internal/errors"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	appleIssuer  = "https://appleid.apple.com"
	appleJWKSURL = "https://appleid.apple.com/auth/keys"

	jwksRefreshInterval = time.Hour
)

// Verifier implements service.TokenVerifier for Apple.
// The token signature is verified against Apple's published JWKS before any
// claim is trusted, then issuer, audience, and expiry are checked explicitly
// in that order so each failure reports the specific check that rejected the
// token. Apple omits email on repeat sign-ins and sends name only on the
// first one, so both are optional in the extracted claim.
type Verifier struct {
	clientID string
	jwksURL  string
	logger   *slog.Logger

	// keyFn, when set, bypasses the JWKS lookup. Tests use it to sign tokens
	// with a local key.
	keyFn jwt.Keyfunc

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

// NewVerifier is the constructor for the Apple token verifier. The client ID
// (the app's bundle or services identifier) is injected from configuration;
// when it is absent the verifier fails closed on every call.
func NewVerifier(cfg *config.Config, logger *slog.Logger) service.TokenVerifier {
	clientID := ""
	jwksURL := appleJWKSURL
	if cfg.AppleOAuth != nil {
		clientID = cfg.AppleOAuth.ClientID
		if cfg.AppleOAuth.JWKSURL != "" {
			jwksURL = cfg.AppleOAuth.JWKSURL
		}
	}

	return &Verifier{
		clientID: clientID,
		jwksURL:  jwksURL,
		logger:   logger,
	}
}

// Provider returns the provider this verifier handles.
func (v *Verifier) Provider() entity.Provider {
	return entity.ProviderApple
}

// VerifyIDToken validates an Apple ID token and extracts a normalized claim.
func (v *Verifier) VerifyIDToken(ctx context.Context, idToken string) (*service.IdentityClaim, error) {
	if v.clientID == "" {
		return nil, domainerrors.ErrOAuthNotConfigured.WrapMessage("apple OAuth client ID is not configured")
	}

	keyFn, err := v.keyfunc()
	if err != nil {
		return nil, domainerrors.ErrOAuthTokenRejected.WrapMessage(
			fmt.Sprintf("failed to load apple signing keys: %v", err))
	}

	claims := jwt.MapClaims{}
	// Claims are validated explicitly below so that each failed check carries
	// a distinct message, starting with the issuer.
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(idToken, claims, keyFn); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, domainerrors.ErrOAuthTokenMalformed.WrapMessage(
				fmt.Sprintf("failed to decode apple ID token: %v", err))
		}

		v.logger.Warn("Apple ID token signature verification failed", slog.Any("error", err))

		return nil, domainerrors.ErrOAuthTokenRejected.WrapMessage(
			fmt.Sprintf("apple ID token signature verification failed: %v", err))
	}

	if err := v.validateClaims(claims); err != nil {
		v.logger.Warn("Apple ID token rejected", slog.Any("error", err))

		return nil, err
	}

	return extractClaim(claims)
}

// validateClaims checks issuer, audience, and expiry, in that order.
func (v *Verifier) validateClaims(claims jwt.MapClaims) error {
	issuer, _ := claims.GetIssuer()
	if issuer != appleIssuer {
		return domainerrors.ErrOAuthTokenRejected.WrapMessage(
			fmt.Sprintf("invalid issuer: expected %s, got %s", appleIssuer, issuer))
	}

	audience, _ := claims.GetAudience()
	if !slices.Contains(audience, v.clientID) {
		return domainerrors.ErrOAuthTokenRejected.WrapMessage(
			fmt.Sprintf("invalid audience: expected %s, got %v", v.clientID, []string(audience)))
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil {
		return domainerrors.ErrOAuthTokenMalformed.WrapMessage("malformed exp claim in apple ID token")
	}
	if expiry != nil && expiry.Before(time.Now()) {
		return domainerrors.ErrOAuthTokenRejected.WrapMessage(
			fmt.Sprintf("apple ID token expired at %s", expiry.Format(time.RFC3339)))
	}

	return nil
}

// extractClaim maps the validated claims to a normalized identity claim.
func extractClaim(claims jwt.MapClaims) (*service.IdentityClaim, error) {
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, domainerrors.ErrOAuthTokenMalformed.WrapMessage("apple ID token carries no subject claim")
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &service.IdentityClaim{
		Provider:      entity.ProviderApple,
		ProviderID:    subject,
		Email:         email,
		Name:          name,
		EmailVerified: parseEmailVerified(claims["email_verified"]),
	}, nil
}

// parseEmailVerified handles Apple's inconsistent encoding of the claim,
// which arrives as a bool or as the strings "true"/"false".
func parseEmailVerified(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return typed == "true"
	default:
		return false
	}
}

// keyfunc returns the key lookup used to verify token signatures, fetching
// and caching Apple's JWKS on first use.
func (v *Verifier) keyfunc() (jwt.Keyfunc, error) {
	if v.keyFn != nil {
		return v.keyFn, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks == nil {
		// The refresh goroutine outlives any single request, so it is not
		// tied to the caller's context.
		jwks, err := keyfunc.Get(v.jwksURL, keyfunc.Options{
			Ctx:               context.Background(),
			RefreshInterval:   jwksRefreshInterval,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				v.logger.Warn("Apple JWKS refresh failed", slog.Any("error", err))
			},
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to fetch apple JWKS")
		}
		v.jwks = jwks
	}

	return v.jwks.Keyfunc, nil
}
