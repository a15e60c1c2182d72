package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-client/internal/clock"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/storage"
)

type fakeAuth struct {
	resp    models.LoginResponse
	err     error
	me      models.Identity
	meErr   error
	meCalls int
}

func (f *fakeAuth) Login(context.Context, models.LoginRequest) (models.LoginResponse, error) {
	return f.resp, f.err
}

func (f *fakeAuth) Me(context.Context) (models.Identity, error) {
	f.meCalls++
	return f.me, f.meErr
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newManager(auth *fakeAuth) (*Manager, *storage.MemoryStore, *clock.FakeClock) {
	st := storage.NewMemoryStore()
	clk := clock.Fake(t0)
	return NewManager(st, auth, clk, time.Hour, nil), st, clk
}

func TestLoginScenario(t *testing.T) {
	auth := &fakeAuth{resp: models.LoginResponse{Token: "t1", ID: "u1", Email: "a@b.com"}}
	m, _, _ := newManager(auth)
	ctx := context.Background()

	resp, err := m.Login(ctx, models.LoginRequest{CorporateEmail: "a@b.com", Password: "x"})
	require.NoError(t, err)
	assert.Equal(t, "t1", resp.Token)
	assert.True(t, m.IsAuthenticated(ctx))

	ident, err := m.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{ID: "u1", Email: "a@b.com"}, ident)
	assert.Zero(t, auth.meCalls)
}

func TestLoginFailureStoresNothing(t *testing.T) {
	m, st, _ := newManager(&fakeAuth{err: errors.New("Credenciais inválidas")})
	_, err := m.Login(context.Background(), models.LoginRequest{})
	assert.EqualError(t, err, "Credenciais inválidas")
	assert.Empty(t, st.Keys())
}

func TestAuthenticatedStrictlyBeforeDeadline(t *testing.T) {
	m, st, clk := newManager(&fakeAuth{resp: models.LoginResponse{Token: "t1", ID: "u1"}})
	ctx := context.Background()
	_, err := m.Login(ctx, models.LoginRequest{})
	require.NoError(t, err)

	clk.Set(t0.Add(time.Hour - time.Nanosecond))
	assert.True(t, m.IsAuthenticated(ctx))

	clk.Set(t0.Add(time.Hour))
	assert.False(t, m.IsAuthenticated(ctx))
	_, ok, _ := st.Get(ctx, storage.KeyAuthToken)
	assert.False(t, ok, "expired token is cleared")
	_, ok, _ = st.Get(ctx, storage.KeyAuthUser)
	assert.False(t, ok)
}

func TestTokenWithoutIssueTimeIsNotAuthenticated(t *testing.T) {
	m, st, _ := newManager(&fakeAuth{})
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, storage.KeyAuthToken, "orphan"))

	assert.False(t, m.IsAuthenticated(ctx))
	assert.Empty(t, st.Keys())
}

func TestJWTExpiryShortensDeadline(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(t0.Add(20 * time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	m, _, clk := newManager(&fakeAuth{resp: models.LoginResponse{Token: tok, ID: "u1"}})
	ctx := context.Background()
	_, err = m.Login(ctx, models.LoginRequest{})
	require.NoError(t, err)

	deadline, ok := m.Deadline(ctx)
	require.True(t, ok)
	assert.Equal(t, t0.Add(20*time.Minute), deadline.UTC())

	clk.Set(t0.Add(21 * time.Minute))
	assert.False(t, m.IsAuthenticated(ctx))
}

func TestScheduleExpiryFiresOnceAtDeadline(t *testing.T) {
	m, _, clk := newManager(&fakeAuth{resp: models.LoginResponse{Token: "t1", ID: "u1"}})
	ctx := context.Background()
	_, err := m.Login(ctx, models.LoginRequest{})
	require.NoError(t, err)

	fired := 0
	m.ScheduleExpiryCheck(ctx, func() { fired++ })
	clk.Advance(59 * time.Minute)
	assert.Zero(t, fired)
	clk.Advance(time.Minute)
	assert.Equal(t, 1, fired)
	clk.Advance(time.Hour)
	assert.Equal(t, 1, fired)
}

func TestRescheduleAfterFreshLoginReplacesOldCheck(t *testing.T) {
	m, _, clk := newManager(&fakeAuth{resp: models.LoginResponse{Token: "t1", ID: "u1"}})
	ctx := context.Background()
	_, err := m.Login(ctx, models.LoginRequest{})
	require.NoError(t, err)

	var fired []string
	m.ScheduleExpiryCheck(ctx, func() { fired = append(fired, "first") })

	clk.Advance(30 * time.Minute)
	_, err = m.Login(ctx, models.LoginRequest{})
	require.NoError(t, err)
	m.ScheduleExpiryCheck(ctx, func() { fired = append(fired, "second") })

	clk.Advance(45 * time.Minute)
	assert.Empty(t, fired, "first check must not fire after the window was extended")
	clk.Advance(15 * time.Minute)
	assert.Equal(t, []string{"second"}, fired)
	assert.Zero(t, clk.Pending())
}

func TestScheduleWithoutSessionExpiresImmediately(t *testing.T) {
	m, _, _ := newManager(&fakeAuth{})
	fired := false
	m.ScheduleExpiryCheck(context.Background(), func() { fired = true })
	assert.True(t, fired)
}

func TestLogoutCancelsScheduledCheck(t *testing.T) {
	m, st, clk := newManager(&fakeAuth{resp: models.LoginResponse{Token: "t1", ID: "u1"}})
	ctx := context.Background()
	_, err := m.Login(ctx, models.LoginRequest{})
	require.NoError(t, err)
	fired := false
	m.ScheduleExpiryCheck(ctx, func() { fired = true })

	require.NoError(t, m.Logout(ctx))
	clk.Advance(2 * time.Hour)
	assert.False(t, fired)
	assert.Empty(t, st.Keys())
}

func TestIdentityFallsBackToMeAndCaches(t *testing.T) {
	auth := &fakeAuth{me: models.Identity{ID: "u9", Email: "z@b.com"}}
	m, _, _ := newManager(auth)
	ctx := context.Background()

	id, err := m.ViewerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u9", id)
	id, err = m.ViewerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u9", id)
	assert.Equal(t, 1, auth.meCalls)
}

func TestIdentityMeFailure(t *testing.T) {
	m, _, _ := newManager(&fakeAuth{meErr: errors.New("Erro 401: Unauthorized")})
	_, err := m.ViewerID(context.Background())
	assert.EqualError(t, err, "Erro 401: Unauthorized")
}
