// Package impl contains the application-specific business rules implementations.
package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	deliverycontext "mound/internal/delivery/context"
	"mound/internal/domain/entity"
	domainerrors "mound/internal/domain/errors"
	"mound/internal/domain/repository"
	"mound/internal/domain/service"
	"mound/internal/usecase"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// identityService implements the IdentityUsecase interface.
type identityService struct {
	txManager    repository.TransactionManager
	hasher       service.PasswordHasher
	tokenService service.TokenService
	verifiers    map[entity.Provider]service.TokenVerifier
	publisher    service.EventPublisher
	logger       *slog.Logger
}

// NewIdentityService is the constructor for identityService. It receives all
// dependencies as interfaces; verifiers are keyed by the provider they handle.
func NewIdentityService(
	txManager repository.TransactionManager,
	hasher service.PasswordHasher,
	tokenService service.TokenService,
	verifiers []service.TokenVerifier,
	publisher service.EventPublisher,
	logger *slog.Logger,
) usecase.IdentityUsecase {
	byProvider := make(map[entity.Provider]service.TokenVerifier, len(verifiers))
	for _, v := range verifiers {
		byProvider[v.Provider()] = v
	}

	return &identityService{
		txManager:    txManager,
		hasher:       hasher,
		tokenService: tokenService,
		verifiers:    byProvider,
		publisher:    publisher,
		logger:       logger,
	}
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *identityService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// Register orchestrates the complete password registration process.
func (srv *identityService) Register(ctx context.Context, input *usecase.RegisterInput) (*usecase.RegisterOutput, error) {
	srv.log(ctx).Info("Starting user registration", slog.String("email", input.Email))

	if err := srv.hasher.ValidatePasswordStrength(input.Password); err != nil {
		return nil, errors.Wrap(err, "registration rejected")
	}

	hashedPassword, err := srv.hasher.Hash(input.Password)
	if err != nil {
		srv.log(ctx).Error("Failed to hash password during registration", slog.Any("error", err))

		return nil, errors.Wrap(err, "failed to hash password during registration")
	}

	var registeredUser *entity.User

	// Execute the entire creation process within a single database transaction
	// to ensure data consistency (atomicity).
	err = srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		userRepo := repoFactory.NewUserRepository()

		// 1. Check if an account with this email already exists.
		_, err := userRepo.FindByEmail(ctx, input.Email)
		if err == nil {
			// If no error, it means an account was found.
			return domainerrors.ErrUserAlreadyExists.WrapMessage("user registration failed")
		}
		// We expect a 'not found' error. If it's a different error, something went wrong.
		if !errors.Is(err, repository.ErrUserNotFound) {
			return errors.Wrap(err, "failed to find user by email")
		}

		// 2. Create the user with the password credential.
		newUser := &entity.User{
			Name:         input.Name,
			Email:        input.Email,
			PasswordHash: &hashedPassword,
		}

		if err := userRepo.Create(ctx, newUser); err != nil {
			return errors.WithStack(err)
		}
		registeredUser = newUser

		return nil
	})

	if err != nil {
		srv.log(ctx).Error("Failed to execute user registration transaction",
			slog.Any("error", err), slog.String("email", input.Email))

		return nil, errors.Wrap(err, "failed to execute user registration transaction")
	}
	srv.log(ctx).Debug("User registered successfully", slog.Any("userID", registeredUser.ID))

	srv.publishIdentityEvent(ctx, service.EventAccountCreated, registeredUser, "")

	return &usecase.RegisterOutput{User: registeredUser}, nil
}

// Login orchestrates the password login process.
func (srv *identityService) Login(ctx context.Context, input *usecase.LoginInput) (*usecase.LoginOutput, error) {
	srv.log(ctx).Debug("Starting user login", slog.String("email", input.Email))

	var loggedInUser *entity.User
	var accessToken, refreshTokenString string

	err := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		userRepo := repoFactory.NewUserRepository()

		// 1. Find the account by email.
		user, err := userRepo.FindByEmail(ctx, input.Email)
		if err != nil {
			// This includes ErrUserNotFound, which we treat as an invalid credential case.
			return errors.Wrap(domainerrors.ErrInvalidCredentials, "login failed")
		}

		// 2. Check the password. Pure-OAuth accounts have no password and cannot
		// log in this way.
		if !user.HasPassword() || !srv.hasher.Check(input.Password, *user.PasswordHash) {
			return errors.Wrap(domainerrors.ErrInvalidCredentials, "login failed")
		}

		// 3. Generate new tokens.
		accessToken, refreshTokenString, err = srv.tokenService.GenerateTokens(user.ID)
		if err != nil {
			return errors.Wrap(err, "failed to generate tokens")
		}

		// 4. Securely store the new refresh token.
		if err := srv.storeRefreshToken(ctx, repoFactory, user.ID, refreshTokenString, input.DeviceID); err != nil {
			return err
		}
		loggedInUser = user

		return nil
	})

	if err != nil {
		srv.log(ctx).Warn("Login failed", slog.String("email", input.Email), slog.String("error", err.Error()))

		return nil, errors.Wrap(err, "failed to execute user login transaction")
	}
	srv.log(ctx).Debug("User logged in successfully", slog.Any("userID", loggedInUser.ID))

	return &usecase.LoginOutput{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		User:         loggedInUser,
	}, nil
}

// OAuthLogin verifies a provider-issued ID token and resolves it to exactly
// one local account, creating or linking as needed, then issues a session.
func (srv *identityService) OAuthLogin(ctx context.Context, input *usecase.OAuthLoginInput) (*usecase.LoginOutput, error) {
	srv.log(ctx).Info("Handling OAuth login", slog.String("provider", input.Provider.String()))

	verifier, ok := srv.verifiers[input.Provider]
	if !ok {
		return nil, domainerrors.ErrOAuthNotConfigured.WrapMessage(
			"no verifier registered for provider " + input.Provider.String())
	}

	// 1. Verify the ID token with the provider.
	claim, err := verifier.VerifyIDToken(ctx, input.IDToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to verify ID token")
	}

	// 2. Resolve the claim to a user and issue a session. A unique violation
	// during the creation step means a concurrent call resolved the same
	// identity first; the failed insert aborts the whole transaction, so the
	// recovery re-runs the resolution once in a fresh transaction, where the
	// provider-pair lookup finds the winner.
	output, eventType, err := srv.resolveOAuthSession(ctx, claim, input.DeviceID)
	if err != nil && errors.Is(err, domainerrors.ErrUserAlreadyExists) {
		srv.log(ctx).Info("Lost creation race, retrying identity resolution",
			slog.String("provider", input.Provider.String()))

		output, eventType, err = srv.resolveOAuthSession(ctx, claim, input.DeviceID)
	}

	if err != nil {
		srv.log(ctx).Warn("OAuth login failed",
			slog.String("provider", input.Provider.String()), slog.String("error", err.Error()))

		return nil, errors.Wrap(err, "failed to execute OAuth login transaction")
	}
	srv.log(ctx).Debug("OAuth login succeeded", slog.Any("userID", output.User.ID))

	if eventType != "" {
		srv.publishIdentityEvent(ctx, eventType, output.User, claim.Provider.String())
	}

	return output, nil
}

// resolveOAuthSession runs one resolution attempt: find-or-create the user
// and store a refresh token, all within a single transaction so the
// multi-step resolution cannot interleave with a concurrent resolution of
// the same identity.
func (srv *identityService) resolveOAuthSession(
	ctx context.Context,
	claim *service.IdentityClaim,
	deviceID string,
) (*usecase.LoginOutput, string, error) {
	var resolvedUser *entity.User
	var eventType string
	var accessToken, refreshTokenString string

	err := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		user, event, err := srv.findOrCreateOAuthUser(ctx, repoFactory, claim)
		if err != nil {
			return err
		}
		resolvedUser = user
		eventType = event

		accessToken, refreshTokenString, err = srv.tokenService.GenerateTokens(user.ID)
		if err != nil {
			return errors.Wrap(err, "failed to generate tokens")
		}

		return srv.storeRefreshToken(ctx, repoFactory, user.ID, refreshTokenString, deviceID)
	})
	if err != nil {
		return nil, "", err
	}

	return &usecase.LoginOutput{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		User:         resolvedUser,
	}, eventType, nil
}

// findOrCreateOAuthUser resolves a verified identity claim to exactly one
// user record. Steps execute in strict order; each one short-circuits on a
// match:
//
//  1. lookup by the (provider, providerID) pair;
//  2. lookup by email, linking the identity onto a password-bearing account;
//  3. create a fresh record with no password;
//  4. reconcile name and emailVerified on records found in steps 1 and 2.
//
// Step 2's linking decision depends on step 1 having found nothing, so the
// order is load-bearing. The returned event type is EventAccountCreated,
// EventAccountLinked, or empty when an existing linked record was found.
func (srv *identityService) findOrCreateOAuthUser(
	ctx context.Context,
	repoFactory repository.RepositoryFactory,
	claim *service.IdentityClaim,
) (*entity.User, string, error) {
	userRepo := repoFactory.NewUserRepository()

	// Step 1: the provider identity pair maps to at most one user.
	user, err := userRepo.FindByProviderID(ctx, claim.Provider, claim.ProviderID)
	if err == nil {
		if err := srv.reconcileUser(ctx, userRepo, user, claim); err != nil {
			return nil, "", err
		}

		return user, "", nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, "", errors.Wrap(err, "failed to find user by provider identity")
	}

	// Step 2: link onto an existing password account sharing the email.
	if claim.Email != "" {
		existing, err := userRepo.FindByEmail(ctx, claim.Email)
		if err == nil && existing.HasPassword() {
			srv.log(ctx).Info("Linking provider identity to existing account",
				slog.Any("userID", existing.ID), slog.String("provider", claim.Provider.String()))

			existing.LinkIdentity(claim.Provider, claim.ProviderID)
			if claim.EmailVerified {
				existing.EmailVerified = true
			}
			if err := userRepo.Update(ctx, existing); err != nil {
				return nil, "", errors.Wrap(err, "failed to link provider identity")
			}

			if err := srv.reconcileUser(ctx, userRepo, existing, claim); err != nil {
				return nil, "", err
			}

			return existing, service.EventAccountLinked, nil
		}
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return nil, "", errors.Wrap(err, "failed to find user by email")
		}
	}

	// Step 3: no match at all, create a fresh record. Pure-OAuth accounts
	// carry no password.
	srv.log(ctx).Info("Creating new account for provider identity",
		slog.String("provider", claim.Provider.String()), slog.String("email", claim.Email))

	provider := claim.Provider
	providerID := claim.ProviderID
	newUser := &entity.User{
		Email:         claim.Email,
		Name:          claim.Name,
		OAuthProvider: &provider,
		OAuthID:       &providerID,
		EmailVerified: claim.EmailVerified,
	}

	if err := userRepo.Create(ctx, newUser); err != nil {
		// A concurrent call may have created the same identity between our
		// lookups and this insert. The failed insert has aborted the
		// transaction, so no recovery is possible here; OAuthLogin retries
		// the resolution in a fresh transaction.
		return nil, "", errors.WithStack(err)
	}

	return newUser, service.EventAccountCreated, nil
}

// reconcileUser applies the reconciliation pass to a record found in step 1
// or linked in step 2. The name update and the emailVerified raise are two
// independent conditional writes; emailVerified is never lowered.
func (srv *identityService) reconcileUser(
	ctx context.Context,
	userRepo repository.UserRepository,
	user *entity.User,
	claim *service.IdentityClaim,
) error {
	if claim.Name != "" && claim.Name != user.Name {
		user.Name = claim.Name
		if err := userRepo.Update(ctx, user); err != nil {
			return errors.Wrap(err, "failed to reconcile user name")
		}
	}

	if claim.EmailVerified && !user.EmailVerified {
		user.EmailVerified = true
		if err := userRepo.Update(ctx, user); err != nil {
			return errors.Wrap(err, "failed to reconcile email verification")
		}
	}

	return nil
}

// Refresh handles the process of issuing a new token pair using a refresh token.
func (srv *identityService) Refresh(ctx context.Context, input *usecase.RefreshInput) (*usecase.RefreshOutput, error) {
	srv.log(ctx).Info("Attempting to refresh token")

	claims, err := srv.tokenService.ValidateRefreshToken(input.RefreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "invalid refresh token")
	}

	tokenHash := hashToken(input.RefreshToken)

	var newAccessToken, newRefreshTokenString string

	err = srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		userRepo := repoFactory.NewUserRepository()
		refreshRepo := repoFactory.NewRefreshTokenRepository()

		// 1. Verify the refresh token exists in the database and has not expired.
		storedToken, err := refreshRepo.FindByHash(ctx, tokenHash)
		if err != nil {
			return errors.Wrap(err, "refresh token not found or expired")
		}

		// 2. Fetch the user.
		user, err := userRepo.FindByID(ctx, claims.UserID)
		if err != nil {
			return errors.Wrap(err, "failed to find user")
		}

		// 3. Generate new tokens.
		newAccessToken, newRefreshTokenString, err = srv.tokenService.GenerateTokens(user.ID)
		if err != nil {
			return errors.Wrap(err, "failed to generate new tokens")
		}

		// 4. Store the new refresh token, carrying over the device binding.
		deviceID := ""
		if storedToken.DeviceID != nil {
			deviceID = *storedToken.DeviceID
		}
		if err := srv.storeRefreshToken(ctx, repoFactory, user.ID, newRefreshTokenString, deviceID); err != nil {
			return err
		}

		// 5. Delete the old refresh token.
		if err := refreshRepo.DeleteByHash(ctx, tokenHash); err != nil {
			// Log the error but don't fail the transaction, as the user has a new valid token.
			srv.log(ctx).Warn("Failed to delete old refresh token", slog.Any("error", err))
		}

		return nil
	})

	if err != nil {
		srv.log(ctx).Error("Failed to execute refresh token transaction", slog.Any("error", err))

		return nil, errors.Wrap(err, "failed to execute refresh token transaction")
	}

	return &usecase.RefreshOutput{
		AccessToken:  newAccessToken,
		RefreshToken: newRefreshTokenString,
	}, nil
}

// Logout handles the process of invalidating a user's session by deleting their refresh token.
func (srv *identityService) Logout(ctx context.Context, input *usecase.LogoutInput) error {
	srv.log(ctx).Info("Attempting to log out")

	if _, err := srv.tokenService.ValidateRefreshToken(input.RefreshToken); err != nil {
		// Even if the token is invalid, we can proceed to delete it from the database.
		srv.log(ctx).Warn("Logout with invalid token", slog.Any("error", err))
	}

	tokenHash := hashToken(input.RefreshToken)

	err := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		refreshRepo := repoFactory.NewRefreshTokenRepository()
		if err := refreshRepo.DeleteByHash(ctx, tokenHash); err != nil {
			return errors.Wrap(err, "failed to delete refresh token")
		}

		return nil
	})

	if err != nil {
		srv.log(ctx).Error("Failed to execute logout transaction", slog.Any("error", err))

		return errors.Wrap(err, "failed to execute logout transaction")
	}
	srv.log(ctx).Info("Successfully logged out")

	return nil
}

// GetProfile retrieves the account record for an authenticated user.
func (srv *identityService) GetProfile(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	srv.log(ctx).Debug("Getting user profile", slog.Any("userID", userID))

	var user *entity.User

	err := srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		userRepo := repoFactory.NewUserRepository()

		found, err := userRepo.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return domainerrors.ErrUserNotFound.WrapMessage("profile lookup failed")
			}

			return errors.Wrap(err, "failed to find user by id")
		}
		user = found

		return nil
	})

	if err != nil {
		return nil, errors.Wrap(err, "failed to get user profile")
	}

	return user, nil
}

// storeRefreshToken hashes and persists a refresh token, optionally bound to
// a client-supplied device identifier.
func (srv *identityService) storeRefreshToken(
	ctx context.Context,
	repoFactory repository.RepositoryFactory,
	userID uuid.UUID,
	refreshTokenString string,
	deviceID string,
) error {
	refreshRepo := repoFactory.NewRefreshTokenRepository()

	newRefreshToken := &entity.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(refreshTokenString),
		ExpiresAt: time.Now().Add(srv.tokenService.GetRefreshTokenDuration()),
	}
	if deviceID != "" {
		newRefreshToken.DeviceID = &deviceID
	}

	if err := refreshRepo.Create(ctx, newRefreshToken); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// publishIdentityEvent publishes an account state change. Publishing is best
// effort; a failure is logged and never fails the originating operation.
func (srv *identityService) publishIdentityEvent(ctx context.Context, eventType string, user *entity.User, provider string) {
	event := &service.IdentityEvent{
		RequestID: deliverycontext.GetRequestIDFromContext(ctx),
		EventType: eventType,
		UserID:    user.ID.String(),
		Email:     user.Email,
		Provider:  provider,
	}

	if err := srv.publisher.PublishIdentityEvent(ctx, event); err != nil {
		srv.log(ctx).Warn("Failed to publish identity event",
			slog.String("event_type", eventType), slog.Any("error", err))
	}
}

// hashToken produces the sha256 hex digest used to store refresh tokens.
func hashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))

	return hex.EncodeToString(hasher.Sum(nil))
}
