package impl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mound/internal/domain/entity"
	domainerrors "mound/internal/domain/errors"
	"mound/internal/domain/repository"
	"mound/internal/domain/service"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- In-memory persistence fakes ---

type fakeUserRepo struct {
	users map[uuid.UUID]*entity.User

	// createErrOnce, when set, fails the next Create with the given error and
	// optionally inserts winner first, simulating a lost creation race.
	createErrOnce error
	winner        *entity.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*entity.User)}
}

func cloneUser(u *entity.User) *entity.User {
	cloned := *u
	if u.PasswordHash != nil {
		hash := *u.PasswordHash
		cloned.PasswordHash = &hash
	}
	if u.OAuthProvider != nil {
		provider := *u.OAuthProvider
		cloned.OAuthProvider = &provider
	}
	if u.OAuthID != nil {
		id := *u.OAuthID
		cloned.OAuthID = &id
	}

	return &cloned
}

func (r *fakeUserRepo) insert(u *entity.User) *entity.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.users[u.ID] = cloneUser(u)

	return r.users[u.ID]
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	if u, ok := r.users[id]; ok {
		return cloneUser(u), nil
	}

	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}

	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) FindByProviderID(_ context.Context, provider entity.Provider, providerID string) (*entity.User, error) {
	for _, u := range r.users {
		if u.OAuthProvider != nil && *u.OAuthProvider == provider &&
			u.OAuthID != nil && *u.OAuthID == providerID {
			return cloneUser(u), nil
		}
	}

	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) Create(_ context.Context, user *entity.User) error {
	if r.createErrOnce != nil {
		err := r.createErrOnce
		r.createErrOnce = nil
		if r.winner != nil {
			r.insert(r.winner)
			r.winner = nil
		}

		return err
	}

	for _, u := range r.users {
		if u.Email == user.Email {
			return domainerrors.ErrUserAlreadyExists.WrapMessage("email already exists")
		}
		if user.OAuthProvider != nil && u.OAuthProvider != nil &&
			*u.OAuthProvider == *user.OAuthProvider &&
			u.OAuthID != nil && user.OAuthID != nil && *u.OAuthID == *user.OAuthID {
			return domainerrors.ErrUserAlreadyExists.WrapMessage("linked identity already exists")
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	r.users[user.ID] = cloneUser(user)

	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *entity.User) error {
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	user.UpdatedAt = time.Now()
	r.users[user.ID] = cloneUser(user)

	return nil
}

type fakeRefreshTokenRepo struct {
	tokens map[string]*entity.RefreshToken
}

func newFakeRefreshTokenRepo() *fakeRefreshTokenRepo {
	return &fakeRefreshTokenRepo{tokens: make(map[string]*entity.RefreshToken)}
}

func (r *fakeRefreshTokenRepo) Create(_ context.Context, token *entity.RefreshToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.CreatedAt = time.Now()
	stored := *token
	r.tokens[token.TokenHash] = &stored

	return nil
}

func (r *fakeRefreshTokenRepo) FindByHash(_ context.Context, hash string) (*entity.RefreshToken, error) {
	token, ok := r.tokens[hash]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	if token.ExpiresAt.Before(time.Now()) {
		return nil, domainerrors.ErrRefreshTokenExpired
	}
	found := *token

	return &found, nil
}

func (r *fakeRefreshTokenRepo) DeleteByHash(_ context.Context, hash string) error {
	if _, ok := r.tokens[hash]; !ok {
		return repository.ErrTokenNotFound
	}
	delete(r.tokens, hash)

	return nil
}

// fakeTx tracks abort state for one transaction. Once a statement fails,
// PostgreSQL rejects every later statement in the same transaction and the
// commit, so the fakes do too. Empty result sets are not statement errors
// and never abort.
type fakeTx struct {
	aborted bool
}

func (tx *fakeTx) run(op func() error) error {
	if tx.aborted {
		return errors.New("current transaction is aborted, commands ignored until end of transaction block")
	}

	err := op()
	if err != nil && statementFailed(err) {
		tx.aborted = true
	}

	return err
}

func statementFailed(err error) bool {
	return !errors.Is(err, repository.ErrUserNotFound) &&
		!errors.Is(err, repository.ErrTokenNotFound) &&
		!errors.Is(err, domainerrors.ErrRefreshTokenExpired)
}

type txUserRepo struct {
	tx   *fakeTx
	repo *fakeUserRepo
}

func (r *txUserRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var user *entity.User
	err := r.tx.run(func() (err error) {
		user, err = r.repo.FindByID(ctx, id)

		return err
	})

	return user, err
}

func (r *txUserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	var user *entity.User
	err := r.tx.run(func() (err error) {
		user, err = r.repo.FindByEmail(ctx, email)

		return err
	})

	return user, err
}

func (r *txUserRepo) FindByProviderID(ctx context.Context, provider entity.Provider, providerID string) (*entity.User, error) {
	var user *entity.User
	err := r.tx.run(func() (err error) {
		user, err = r.repo.FindByProviderID(ctx, provider, providerID)

		return err
	})

	return user, err
}

func (r *txUserRepo) Create(ctx context.Context, user *entity.User) error {
	return r.tx.run(func() error {
		return r.repo.Create(ctx, user)
	})
}

func (r *txUserRepo) Update(ctx context.Context, user *entity.User) error {
	return r.tx.run(func() error {
		return r.repo.Update(ctx, user)
	})
}

type txRefreshTokenRepo struct {
	tx   *fakeTx
	repo *fakeRefreshTokenRepo
}

func (r *txRefreshTokenRepo) Create(ctx context.Context, token *entity.RefreshToken) error {
	return r.tx.run(func() error {
		return r.repo.Create(ctx, token)
	})
}

func (r *txRefreshTokenRepo) FindByHash(ctx context.Context, hash string) (*entity.RefreshToken, error) {
	var token *entity.RefreshToken
	err := r.tx.run(func() (err error) {
		token, err = r.repo.FindByHash(ctx, hash)

		return err
	})

	return token, err
}

func (r *txRefreshTokenRepo) DeleteByHash(ctx context.Context, hash string) error {
	return r.tx.run(func() error {
		return r.repo.DeleteByHash(ctx, hash)
	})
}

type txRepoFactory struct {
	users  *txUserRepo
	tokens *txRefreshTokenRepo
}

func (f *txRepoFactory) NewUserRepository() repository.UserRepository {
	return f.users
}

func (f *txRepoFactory) NewRefreshTokenRepository() repository.RefreshTokenRepository {
	return f.tokens
}

// fakeTxManager runs each callback against the in-memory fakes under a fresh
// fakeTx carrying the abort semantics above.
type fakeTxManager struct {
	users  *fakeUserRepo
	tokens *fakeRefreshTokenRepo
}

func (m *fakeTxManager) Execute(_ context.Context, fn func(repository.RepositoryFactory) error) error {
	tx := &fakeTx{}
	factory := &txRepoFactory{
		users:  &txUserRepo{tx: tx, repo: m.users},
		tokens: &txRefreshTokenRepo{tx: tx, repo: m.tokens},
	}

	if err := fn(factory); err != nil {
		return err
	}
	if tx.aborted {
		return errors.New("transaction aborted, commit failed")
	}

	return nil
}

// --- Collaborator stubs ---

type stubVerifier struct {
	provider entity.Provider
	claim    *service.IdentityClaim
	err      error
}

func (v *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*service.IdentityClaim, error) {
	if v.err != nil {
		return nil, v.err
	}
	claim := *v.claim

	return &claim, nil
}

func (v *stubVerifier) Provider() entity.Provider {
	return v.provider
}

type stubTokenService struct {
	counter     int
	validateErr error
	claimUserID uuid.UUID
}

func (s *stubTokenService) GenerateTokens(uuid.UUID) (string, string, error) {
	s.counter++

	return fmt.Sprintf("access-%d", s.counter), fmt.Sprintf("refresh-%d", s.counter), nil
}

func (s *stubTokenService) ValidateAccessToken(string) (*service.Claims, error) {
	if s.validateErr != nil {
		return nil, s.validateErr
	}

	return &service.Claims{UserID: s.claimUserID, Type: "access"}, nil
}

func (s *stubTokenService) ValidateRefreshToken(string) (*service.Claims, error) {
	if s.validateErr != nil {
		return nil, s.validateErr
	}

	return &service.Claims{UserID: s.claimUserID, Type: "refresh"}, nil
}

func (s *stubTokenService) GetRefreshTokenDuration() time.Duration {
	return time.Hour
}

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (stubHasher) Check(password, hash string) bool {
	return hash == "hashed:"+password
}

func (stubHasher) ValidatePasswordStrength(string) error {
	return nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	events []*service.IdentityEvent
}

func (p *recordingPublisher) PublishIdentityEvent(_ context.Context, event *service.IdentityEvent) error {
	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) Close() error {
	return nil
}

// --- Fixture ---

type fixture struct {
	svc       *identityService
	users     *fakeUserRepo
	tokens    *fakeRefreshTokenRepo
	tokenSvc  *stubTokenService
	publisher *recordingPublisher
}

func newFixture(verifiers ...service.TokenVerifier) *fixture {
	users := newFakeUserRepo()
	tokens := newFakeRefreshTokenRepo()
	tokenSvc := &stubTokenService{}
	publisher := &recordingPublisher{}

	txManager := &fakeTxManager{users: users, tokens: tokens}
	svc := NewIdentityService(txManager, stubHasher{}, tokenSvc, verifiers, publisher, discardLogger())

	return &fixture{
		svc:       svc.(*identityService),
		users:     users,
		tokens:    tokens,
		tokenSvc:  tokenSvc,
		publisher: publisher,
	}
}
