// Package session tracks the signed-in user: token, issue time, cached
// identity and the client-side expiry deadline.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-client/internal/clock"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/storage"
)

// DefaultWindow is how long a token is considered valid after login.
const DefaultWindow = time.Hour

// Authenticator is the remote side of the session.
type Authenticator interface {
	Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error)
	Me(ctx context.Context) (models.Identity, error)
}

type Manager struct {
	store  storage.Store
	auth   Authenticator
	clock  clock.Clock
	window time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	timer clock.Timer
	gen   uint64
}

func NewManager(store storage.Store, auth Authenticator, clk clock.Clock, window time.Duration, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{store: store, auth: auth, clock: clk, window: window, logger: logging.Or(logger)}
}

// Login authenticates remotely and records token, issue time and identity.
func (m *Manager) Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error) {
	resp, err := m.auth.Login(ctx, req)
	if err != nil {
		return models.LoginResponse{}, err
	}
	m.CancelExpiryCheck()

	issuedAt := m.clock.Now()
	if err := m.store.Set(ctx, storage.KeyAuthToken, resp.Token); err != nil {
		return models.LoginResponse{}, fmt.Errorf("session: store token: %w", err)
	}
	if err := m.store.Set(ctx, storage.KeyAuthTokenIssuedAt, issuedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return models.LoginResponse{}, fmt.Errorf("session: store issue time: %w", err)
	}
	if resp.ID != "" {
		ident := models.Identity{ID: resp.ID, Email: resp.Email}
		if err := storage.SetJSON(ctx, m.store, storage.KeyAuthUser, ident); err != nil {
			return models.LoginResponse{}, fmt.Errorf("session: store identity: %w", err)
		}
	}
	m.logger.Info("session started", "user_id", resp.ID, "expires_at", m.deadlineFor(resp.Token, issuedAt))
	return resp, nil
}

// Logout clears token, issue time and cached identity, and cancels any
// scheduled expiry check.
func (m *Manager) Logout(ctx context.Context) error {
	m.CancelExpiryCheck()
	return m.store.Delete(ctx, storage.KeyAuthToken, storage.KeyAuthTokenIssuedAt, storage.KeyAuthUser)
}

// Token returns the stored bearer token.
func (m *Manager) Token(ctx context.Context) (string, bool) {
	tok, ok, err := m.store.Get(ctx, storage.KeyAuthToken)
	if err != nil {
		m.logger.Error("read token", "error", err)
		return "", false
	}
	return tok, ok && tok != ""
}

// Deadline is the instant the session lapses. ok is false when there is no
// token or no valid issue time.
func (m *Manager) Deadline(ctx context.Context) (time.Time, bool) {
	tok, ok := m.Token(ctx)
	if !ok {
		return time.Time{}, false
	}
	raw, ok, err := m.store.Get(ctx, storage.KeyAuthTokenIssuedAt)
	if err != nil || !ok {
		return time.Time{}, false
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return m.deadlineFor(tok, issuedAt), true
}

// deadlineFor caps issuedAt+window by the exp claim when the token is a JWT.
// The signature is not checked; the backend does that.
func (m *Manager) deadlineFor(tok string, issuedAt time.Time) time.Time {
	deadline := issuedAt.Add(m.window)
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err == nil && claims.ExpiresAt != nil {
		if exp := claims.ExpiresAt.Time; exp.Before(deadline) {
			deadline = exp
		}
	}
	return deadline
}

// IsAuthenticated reports whether a token exists and its deadline has not
// passed. A stored token that is expired, or has no issue time, is cleared.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	if _, ok := m.Token(ctx); !ok {
		return false
	}
	deadline, ok := m.Deadline(ctx)
	if ok && m.clock.Now().Before(deadline) {
		return true
	}
	m.logger.Info("session lapsed", "deadline", deadline)
	if err := m.Logout(ctx); err != nil {
		m.logger.Error("clear expired session", "error", err)
	}
	return false
}

// ScheduleExpiryCheck arranges for onExpire to run once at the deadline,
// replacing any earlier schedule. Without a valid issue time onExpire runs
// before ScheduleExpiryCheck returns.
func (m *Manager) ScheduleExpiryCheck(ctx context.Context, onExpire func()) {
	m.mu.Lock()
	m.stopLocked()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	deadline, ok := m.Deadline(ctx)
	if !ok {
		onExpire()
		return
	}

	t := m.clock.AfterFunc(deadline.Sub(m.clock.Now()), func() {
		m.mu.Lock()
		current := m.gen == gen
		if current {
			m.timer = nil
		}
		m.mu.Unlock()
		if current {
			onExpire()
		}
	})

	m.mu.Lock()
	if m.gen == gen {
		m.timer = t
	} else {
		t.Stop()
	}
	m.mu.Unlock()
}

// CancelExpiryCheck drops the pending expiry check, if any.
func (m *Manager) CancelExpiryCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.gen++
}

func (m *Manager) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

var errNoIdentity = errors.New("session: no identity")

// Identity returns the cached identity, asking the backend once when the
// cache is empty.
func (m *Manager) Identity(ctx context.Context) (models.Identity, error) {
	var ident models.Identity
	ok, err := storage.GetJSON(ctx, m.store, storage.KeyAuthUser, &ident)
	if err != nil {
		m.logger.Warn("cached identity unreadable", "error", err)
	}
	if ok && ident.ID != "" {
		return ident, nil
	}
	ident, err = m.auth.Me(ctx)
	if err != nil {
		return models.Identity{}, err
	}
	if ident.ID == "" {
		return models.Identity{}, errNoIdentity
	}
	if err := storage.SetJSON(ctx, m.store, storage.KeyAuthUser, ident); err != nil {
		m.logger.Warn("cache identity", "error", err)
	}
	return ident, nil
}

// ViewerID is the id of the signed-in user.
func (m *Manager) ViewerID(ctx context.Context) (string, error) {
	ident, err := m.Identity(ctx)
	if err != nil {
		return "", err
	}
	return ident.ID, nil
}
