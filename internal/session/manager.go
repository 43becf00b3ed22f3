// Package session owns the current user identity: hydration from persisted
// credentials, login, registration and logout. Navigation policy is exposed
// as derived booleans only; the manager never redirects anything itself.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kbchat/internal/api"
	"kbchat/internal/auth"
)

// ErrInvalidCredentials is returned when the server rejects a
// username/password pair at the token endpoint.
var ErrInvalidCredentials = errors.New("session: invalid credentials")

// RegisterInput is the user-supplied registration form, validated
// client-side before the server sees it.
type RegisterInput struct {
	Username string `validate:"required,min=3,max=150"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

// Manager resolves and holds the current user.
type Manager struct {
	client   *api.Client
	store    *auth.Store
	logger   *zap.Logger
	validate *validator.Validate

	mu      sync.Mutex
	user    *api.User
	loading bool
}

// New creates an unresolved manager. Call Hydrate before consulting
// Authenticated; Loading reports true until hydration settles.
func New(client *api.Client, store *auth.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:   client,
		store:    store,
		logger:   logger,
		validate: validator.New(),
		loading:  true,
	}
}

// Hydrate resolves the identity from persisted credentials. With no stored
// token it settles unauthenticated immediately; with one it asks the server.
// A failed fetch settles unauthenticated without clearing anything extra:
// the transport has already dropped the tokens if they were truly dead.
func (m *Manager) Hydrate(ctx context.Context) {
	if _, ok := m.store.Get(); !ok {
		m.settle(nil)
		return
	}

	user, err := m.client.Me(ctx)
	if err != nil {
		if !errors.Is(err, api.ErrUnauthenticated) {
			m.logger.Warn("identity hydration failed", zap.Error(err))
		}
		m.settle(nil)
		return
	}
	m.logger.Debug("identity hydrated", zap.String("username", user.Username))
	m.settle(user)
}

func (m *Manager) settle(user *api.User) {
	m.mu.Lock()
	m.user = user
	m.loading = false
	m.mu.Unlock()
}

// Login exchanges credentials for tokens, persists the pair and resolves
// the user. A rejected pair maps to ErrInvalidCredentials; network and
// server faults propagate as-is.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	creds, err := m.client.IssueToken(ctx, username, password)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			return ErrInvalidCredentials
		}
		return err
	}

	if err := m.store.Set(creds); err != nil {
		return err
	}

	user, err := m.client.Me(ctx)
	if err != nil {
		return err
	}
	m.settle(user)
	m.logger.Info("logged in", zap.String("username", user.Username))
	return nil
}

// Register creates the account and then logs in with the same credentials.
// Registration on its own never establishes a session.
func (m *Manager) Register(ctx context.Context, input RegisterInput) error {
	if err := m.validate.Struct(input); err != nil {
		return err
	}
	err := m.client.Register(ctx, api.RegisterRequest{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		return err
	}
	return m.Login(ctx, input.Username, input.Password)
}

// Logout drops tokens and identity. Idempotent; never fails the caller.
func (m *Manager) Logout() {
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("clearing credentials", zap.Error(err))
	}
	m.settle(nil)
}

// Current returns the resolved user, if any.
func (m *Manager) Current() (*api.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil, false
	}
	u := *m.user
	return &u, true
}

// Loading reports whether hydration is still unsettled. While true, no
// route-guard decision should be made.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Authenticated reports whether a user is resolved.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil
}
