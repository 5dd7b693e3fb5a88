package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/credential"
	credentialentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/credential/entity"
	credentialrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	sessionentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/entity"
	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *auth.Service
	creds    *credentialrepo.CredentialRepo
	sessions *sessionrepo.SessionRepo
	tokens   *session.TokenService
	clock    *clockwork.FakeClock
	metrics  *auth.Metrics
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	creds := credentialrepo.NewCredentialRepo(db)
	require.NoError(t, creds.EnsureTable(ctx))
	sessions := sessionrepo.NewSessionRepo(db)
	require.NoError(t, sessions.EnsureTable(ctx))

	clock := clockwork.NewFakeClockAt(start)
	tokens, err := session.NewTokenService("access-secret-for-tests", "refresh-secret-for-tests", session.WithClock(clock))
	require.NoError(t, err)

	metrics := auth.NewMetrics(prometheus.NewRegistry())
	svc, err := auth.NewService(creds, sessions, credential.BcryptHasher{Cost: bcrypt.MinCost}, tokens,
		zaptest.NewLogger(t).Sugar(), auth.WithClock(clock), auth.WithMetrics(metrics))
	require.NoError(t, err)

	return &fixture{svc: svc, creds: creds, sessions: sessions, tokens: tokens, clock: clock, metrics: metrics, ctx: ctx}
}

func (f *fixture) register(t *testing.T) *auth.AuthResult {
	t.Helper()
	res, err := f.svc.Register(f.ctx, auth.RegisterInput{
		Email:       "a@x.com",
		Password:    "Passw0rd!",
		PhoneNumber: "5551234567",
		Client:      auth.ClientInfo{UserAgent: "test-agent", IPAddress: "10.0.0.9"},
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) login(password string) (*auth.AuthResult, error) {
	return f.svc.Login(f.ctx, auth.LoginInput{Email: "a@x.com", Password: password})
}

func (f *fixture) record(t *testing.T, id int64) *credentialentity.AuthRecord {
	t.Helper()
	rec, err := f.creds.GetByID(f.ctx, id)
	require.NoError(t, err)
	return rec
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := auth.NewService(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestRegister_CreatesRecordAndSession(t *testing.T) {
	f := newFixture(t)
	res := f.register(t)

	assert.Equal(t, "Bearer", res.TokenType)
	assert.EqualValues(t, 900, res.ExpiresIn)
	assert.Equal(t, "a@x.com", res.User.Email)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	rec := f.record(t, res.User.ID)
	assert.Equal(t, 0, rec.FailedAttempts)
	assert.Nil(t, rec.LockedUntil)
	assert.NotEqual(t, "Passw0rd!", rec.PasswordHash)
	assert.True(t, credential.BcryptHasher{}.Verify(rec.PasswordHash, "Passw0rd!"))

	sess, err := f.sessions.GetByRefreshToken(f.ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sess.ID)
	assert.True(t, start.Add(7*24*time.Hour).Equal(sess.ExpiresAt))
	require.NotNil(t, sess.UserAgent)
	assert.Equal(t, "test-agent", *sess.UserAgent)

	claims, err := f.svc.Introspect(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Registrations), 0)
}

func TestRegister_NormalizesEmail(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Register(f.ctx, auth.RegisterInput{
		Email: "  Mixed@Example.COM ", Password: "Passw0rd!", PhoneNumber: "+15551234567", Username: "mixed_user",
	})
	require.NoError(t, err)
	assert.Equal(t, "mixed@example.com", res.User.Email)
	assert.Equal(t, "mixed_user", res.User.Username)
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    auth.RegisterInput
		field string
	}{
		{"bad email", auth.RegisterInput{Email: "not-an-email", Password: "Passw0rd!", PhoneNumber: "5551234567"}, "email"},
		{"display name email", auth.RegisterInput{Email: "Bob <b@x.com>", Password: "Passw0rd!", PhoneNumber: "5551234567"}, "email"},
		{"missing phone", auth.RegisterInput{Email: "a@x.com", Password: "Passw0rd!"}, "phone_number"},
		{"short phone", auth.RegisterInput{Email: "a@x.com", Password: "Passw0rd!", PhoneNumber: "12345"}, "phone_number"},
		{"bad username", auth.RegisterInput{Email: "a@x.com", Password: "Passw0rd!", PhoneNumber: "5551234567", Username: "a b"}, "username"},
		{"weak password", auth.RegisterInput{Email: "a@x.com", Password: "password", PhoneNumber: "5551234567"}, "password"},
		{"missing password", auth.RegisterInput{Email: "a@x.com", PhoneNumber: "5551234567"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Register(f.ctx, tt.in)
			require.ErrorIs(t, err, auth.ErrValidation)
			var aerr *auth.Error
			require.ErrorAs(t, err, &aerr)
			assert.Contains(t, aerr.Fields, tt.field)
		})
	}
}

func TestRegister_Conflicts(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(f.ctx, auth.RegisterInput{
		Email: "a@x.com", Password: "Passw0rd!", PhoneNumber: "5551234567", Username: "alice",
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    auth.RegisterInput
		field string
	}{
		{"email", auth.RegisterInput{Email: "A@X.com", Password: "Passw0rd!", PhoneNumber: "5550000000"}, "email"},
		{"username", auth.RegisterInput{Email: "b@x.com", Password: "Passw0rd!", PhoneNumber: "5550000001", Username: "alice"}, "username"},
		{"phone", auth.RegisterInput{Email: "c@x.com", Password: "Passw0rd!", PhoneNumber: "5551234567"}, "phone_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(f.ctx, tt.in)
			require.ErrorIs(t, err, auth.ErrConflict)
			var aerr *auth.Error
			require.ErrorAs(t, err, &aerr)
			assert.Contains(t, aerr.Fields, tt.field)
		})
	}

	// still exactly one record for the email
	rec, err := f.creds.GetByEmail(f.ctx, "a@x.com")
	require.NoError(t, err)
	_, err = f.creds.GetByID(f.ctx, rec.ID+1)
	assert.ErrorIs(t, err, credentialrepo.ErrNotFound)
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(f.ctx, auth.LoginInput{Email: "nobody@x.com", Password: "Passw0rd!"})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.svc.Login(f.ctx, auth.LoginInput{Email: "", Password: ""})
	assert.ErrorIs(t, err, auth.ErrValidation)
}

func TestLogin_SuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)

	for i := 0; i < 3; i++ {
		_, err := f.login("wrong")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}
	assert.Equal(t, 3, f.record(t, reg.User.ID).FailedAttempts)

	res, err := f.login("Passw0rd!")
	require.NoError(t, err)
	assert.NotEqual(t, reg.SessionID, res.SessionID)

	rec := f.record(t, reg.User.ID)
	assert.Equal(t, 0, rec.FailedAttempts)
	require.NotNil(t, rec.LastLoginAt)
	assert.True(t, start.Equal(*rec.LastLoginAt))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Logins.WithLabelValues("success")), 0)
}

func TestLogin_LockoutLifecycle(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)

	for i := 0; i < auth.DefaultMaxFailedAttempts; i++ {
		_, err := f.login("wrong")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials, "attempt %d", i+1)
	}

	rec := f.record(t, reg.User.ID)
	assert.Equal(t, 5, rec.FailedAttempts)
	require.NotNil(t, rec.LockedUntil)
	assert.True(t, start.Add(30*time.Minute).Equal(*rec.LockedUntil))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Lockouts), 0)

	// correct password is refused while locked and the counter stays put
	_, err := f.login("Passw0rd!")
	require.ErrorIs(t, err, auth.ErrLocked)
	_, err = f.login("wrong")
	require.ErrorIs(t, err, auth.ErrLocked)
	assert.Equal(t, 5, f.record(t, reg.User.ID).FailedAttempts)

	f.clock.Advance(29 * time.Minute)
	_, err = f.login("Passw0rd!")
	require.ErrorIs(t, err, auth.ErrLocked)

	f.clock.Advance(2 * time.Minute)
	res, err := f.login("Passw0rd!")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)

	rec = f.record(t, reg.User.ID)
	assert.Equal(t, 0, rec.FailedAttempts)
	assert.Nil(t, rec.LockedUntil)
}

func TestLogin_ElapsedLockStartsFreshCount(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)
	for i := 0; i < 5; i++ {
		_, _ = f.login("wrong")
	}
	f.clock.Advance(31 * time.Minute)

	_, err := f.login("wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	rec := f.record(t, reg.User.ID)
	assert.Equal(t, 1, rec.FailedAttempts)
	assert.Nil(t, rec.LockedUntil)
}

func TestLogin_CustomPolicy(t *testing.T) {
	f := newFixture(t)
	svc, err := auth.NewService(f.creds, f.sessions, credential.BcryptHasher{Cost: bcrypt.MinCost}, f.tokens, nil,
		auth.WithClock(f.clock), auth.WithLockoutPolicy(2, time.Minute))
	require.NoError(t, err)
	f.svc = svc
	reg := f.register(t)

	_, _ = f.login("wrong")
	_, _ = f.login("wrong")
	_, err = f.login("Passw0rd!")
	require.ErrorIs(t, err, auth.ErrLocked)
	assert.True(t, start.Add(time.Minute).Equal(*f.record(t, reg.User.ID).LockedUntil))
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)
	for i := 0; i < 5; i++ {
		_, _ = f.login("wrong")
	}

	id, err := f.svc.UnlockByEmail(f.ctx, "A@x.com")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, id)

	rec := f.record(t, reg.User.ID)
	assert.Nil(t, rec.LockedUntil)
	assert.Equal(t, 0, rec.FailedAttempts)

	_, err = f.login("Passw0rd!")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Unlock(f.ctx, 9999), auth.ErrUnknownAccount)
	_, err = f.svc.UnlockByEmail(f.ctx, "nobody@x.com")
	assert.ErrorIs(t, err, auth.ErrUnknownAccount)
}

func TestRefresh_RotatesToken(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)

	f.clock.Advance(time.Hour)
	res, err := f.svc.Refresh(f.ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, reg.SessionID, res.SessionID)
	assert.NotEqual(t, reg.RefreshToken, res.RefreshToken)
	assert.NotEqual(t, reg.AccessToken, res.AccessToken)

	sess, err := f.sessions.GetByRefreshToken(f.ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.True(t, start.Add(time.Hour+7*24*time.Hour).Equal(sess.ExpiresAt))

	// the old token is spent
	_, err = f.svc.Refresh(f.ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	// the new one works once more
	_, err = f.svc.Refresh(f.ctx, res.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)

	_, err := f.svc.Refresh(f.ctx, "")
	assert.ErrorIs(t, err, auth.ErrValidation)

	_, err = f.svc.Refresh(f.ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	// an access token is not a refresh token
	_, err = f.svc.Refresh(f.ctx, reg.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	// validly signed but never stored
	pair, err := f.tokens.IssuePair(session.Identity{UserID: reg.User.ID, Email: reg.User.Email})
	require.NoError(t, err)
	_, err = f.svc.Refresh(f.ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
}

func TestRefresh_ExpiredSessionIsDeleted(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)

	past := start.Add(-time.Minute)
	_, err := f.sessions.Update(f.ctx, reg.SessionID, sessionentity.SessionPatch{ExpiresAt: &past}, start)
	require.NoError(t, err)

	_, err = f.svc.Refresh(f.ctx, reg.RefreshToken)
	require.ErrorIs(t, err, auth.ErrExpiredSession)
	assert.Equal(t, auth.KindSession, auth.KindOf(err))

	_, err = f.sessions.GetByID(f.ctx, reg.SessionID)
	assert.ErrorIs(t, err, sessionrepo.ErrNotFound)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)

	require.NoError(t, f.svc.Logout(f.ctx, reg.RefreshToken))
	_, err := f.svc.Refresh(f.ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	// idempotent
	require.NoError(t, f.svc.Logout(f.ctx, reg.RefreshToken))
	require.NoError(t, f.svc.Logout(f.ctx, ""))
	require.NoError(t, f.svc.Logout(f.ctx, "never-issued"))

	// access tokens stay valid until they expire
	_, err = f.svc.Introspect(reg.AccessToken)
	assert.NoError(t, err)
}

func TestLogoutAllAndListSessions(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)
	f.clock.Advance(time.Minute)
	second, err := f.login("Passw0rd!")
	require.NoError(t, err)

	list, err := f.svc.ListSessions(f.ctx, reg.User.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.SessionID, list[0].ID)

	n, err := f.svc.LogoutAll(f.ctx, reg.User.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err = f.svc.ListSessions(f.ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIntrospect(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)

	_, err := f.svc.Introspect(reg.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.Introspect(reg.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	n, err := f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	f.clock.Advance(8 * 24 * time.Hour)
	n, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SessionsSwept), 0)

	n, err = f.svc.SweepExpired(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

// Register, five bad passwords, lock, wait out the lock, log in.
func TestEndToEndLockoutScenario(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t)
	assert.NotEmpty(t, reg.AccessToken)

	for i := 0; i < 5; i++ {
		_, err := f.login("bad")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}
	_, err := f.login("Passw0rd!")
	require.ErrorIs(t, err, auth.ErrLocked)

	f.clock.Advance(31 * time.Minute)
	res, err := f.login("Passw0rd!")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, 0, f.record(t, reg.User.ID).FailedAttempts)
}

type brokenCreds struct {
	auth.CredentialStore
}

func (brokenCreds) GetByEmail(context.Context, string) (*credentialentity.AuthRecord, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailuresBecomeInternal(t *testing.T) {
	f := newFixture(t)
	svc, err := auth.NewService(brokenCreds{}, f.sessions, credential.BcryptHasher{Cost: bcrypt.MinCost}, f.tokens, nil)
	require.NoError(t, err)

	_, err = svc.Login(f.ctx, auth.LoginInput{Email: "a@x.com", Password: "Passw0rd!"})
	require.ErrorIs(t, err, auth.ErrInternal)
	assert.Equal(t, "internal error", err.Error())
	assert.Contains(t, errors.Unwrap(err).Error(), "connection refused")
}
