package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/client"
	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/observability"
	"github.com/kjstillabower/zappai-client/internal/tokenstore"
)

var (
	// ErrMissingCredentials is returned by Login for an empty username or password.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrInvalidCredentials is returned by Login when the backend rejects the credentials.
	ErrInvalidCredentials = errors.New("wrong username or password")
)

// AuthAPI is the subset of client.API used by Manager.
type AuthAPI interface {
	IdentityAPI
	Login(ctx context.Context, username, password string) (string, error)
}

// Manager drives the session lifecycle: startup resolution, login, logout and
// invalidation on 401 from any authenticated call.
type Manager struct {
	api      AuthAPI
	tokens   tokenstore.Store
	state    *State
	resolver *Resolver
	logger   *zap.Logger

	// startup admits one resolution attempt at a time.
	startup chan struct{}
}

// NewManager wires a Manager over state.
func NewManager(api AuthAPI, tokens tokenstore.Store, state *State, logger *zap.Logger) *Manager {
	logger = observability.OrNop(logger)
	return &Manager{
		api:      api,
		tokens:   tokens,
		state:    state,
		resolver: NewResolver(api, tokens, logger),
		logger:   logger,
		startup:  make(chan struct{}, 1),
	}
}

// State returns the managed State.
func (m *Manager) State() *State {
	return m.state
}

// Startup resolves the stored token and publishes the result. A transport
// failure leaves the state Resolving and is returned; calling Startup again
// retries the resolution. Once Resolved, Startup returns the current snapshot.
// Concurrent calls wait for the attempt in progress.
func (m *Manager) Startup(ctx context.Context) (Snapshot, error) {
	select {
	case m.startup <- struct{}{}:
	case <-ctx.Done():
		return m.state.Snapshot(), ctx.Err()
	}
	defer func() { <-m.startup }()

	snap := m.state.Snapshot()
	switch snap.Phase {
	case PhaseResolved:
		return snap, nil
	case PhaseUnresolved:
		if !m.state.BeginResolve() {
			if snap = m.state.Snapshot(); snap.Phase == PhaseResolved {
				return snap, nil
			}
		}
	case PhaseResolving:
		m.logger.Info("retrying session resolution")
	}

	token, ok, err := m.tokens.Read(ctx)
	if err != nil {
		return m.state.Snapshot(), fmt.Errorf("read token: %w", err)
	}
	sess, err := m.resolver.Resolve(ctx, token, ok)
	if err != nil {
		m.logger.Warn("session resolution failed", zap.Error(err))
		return m.state.Snapshot(), err
	}
	m.state.Publish(sess)
	snap = m.state.Snapshot()
	if snap.Session != nil {
		m.logger.Info("session resolved", zap.String("username", snap.Session.Username))
	} else {
		m.logger.Info("no session")
	}
	return snap, nil
}

// Login exchanges credentials for a token, persists it, resolves the identity and
// publishes the new session.
func (m *Manager) Login(ctx context.Context, username, password string) (*models.Session, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return nil, ErrMissingCredentials
	}

	token, err := m.api.Login(ctx, username, password)
	if errors.Is(err, client.ErrAuthInvalid) {
		m.logger.Info("login rejected", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	sess, err := m.resolver.Resolve(ctx, token, true)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if sess == nil {
		return nil, ErrInvalidCredentials
	}
	if err := m.tokens.Write(ctx, token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	m.state.SetSession(sess)
	m.logger.Info("logged in", zap.String("username", sess.Username))
	return sess.Clone(), nil
}

// Logout clears the token and expires the session. The backend token is not revoked.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.tokens.Clear(ctx)
	m.state.Expire("logout")
	if err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// HandleAuthInvalid is installed as the client's auth-invalid hook.
func (m *Manager) HandleAuthInvalid(ctx context.Context) {
	if err := m.tokens.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear invalid token", zap.Error(err))
	}
	m.state.Expire("auth_invalid")
}
