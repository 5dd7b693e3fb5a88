package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/credential"
	credentialentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/credential/entity"
	credentialrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	sessionentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/entity"
	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
)

// Lockout defaults.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockDuration      = 30 * time.Minute
)

// CredentialStore is the persistence the Service needs for auth records.
// *credentialrepo.CredentialRepo satisfies it.
type CredentialStore interface {
	Create(ctx context.Context, rec *credentialentity.AuthRecord) error
	GetByID(ctx context.Context, id int64) (*credentialentity.AuthRecord, error)
	GetByEmail(ctx context.Context, email string) (*credentialentity.AuthRecord, error)
	GetByUsername(ctx context.Context, username string) (*credentialentity.AuthRecord, error)
	GetByPhoneNumber(ctx context.Context, phone string) (*credentialentity.AuthRecord, error)
	IncrementFailedAttempts(ctx context.Context, id int64, now time.Time) (int, error)
	ResetFailedAttempts(ctx context.Context, id int64, now time.Time) error
	RecordLastLogin(ctx context.Context, id int64, now time.Time) error
	LockUntil(ctx context.Context, id int64, until, now time.Time) error
	Unlock(ctx context.Context, id int64, now time.Time) error
	UnlockIfExpired(ctx context.Context, id int64, now time.Time) (bool, error)
}

// SessionStore is the persistence the Service needs for sessions.
// *sessionrepo.SessionRepo satisfies it.
type SessionStore interface {
	Create(ctx context.Context, s *sessionentity.Session) error
	GetByRefreshToken(ctx context.Context, token string) (*sessionentity.Session, error)
	ListByUser(ctx context.Context, userID int64) ([]*sessionentity.Session, error)
	Rotate(ctx context.Context, id int64, oldToken, newToken string, expiresAt, now time.Time) (*sessionentity.Session, error)
	DeleteByID(ctx context.Context, id int64) error
	DeleteByRefreshToken(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ClientInfo is request metadata stored on new sessions.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

type RegisterInput struct {
	Email       string
	Password    string
	PhoneNumber string
	Username    string
	Client      ClientInfo
}

type LoginInput struct {
	Email    string
	Password string
	Client   ClientInfo
}

type UserSummary struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// AuthResult is returned by Register, Login and Refresh.
type AuthResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	SessionID    int64       `json:"session_id"`
	User         UserSummary `json:"user"`
}

// Service orchestrates registration, login with lockout, token refresh and
// logout on top of the credential and session stores.
type Service struct {
	creds    CredentialStore
	sessions SessionStore
	hasher   credential.PasswordHasher
	tokens   *session.TokenService
	logger   *zap.SugaredLogger
	clock    clockwork.Clock
	metrics  *Metrics

	maxFailed    int
	lockDuration time.Duration
	dummyHash    string
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLockoutPolicy overrides the failure threshold and lock length.
// Non-positive values keep the defaults.
func WithLockoutPolicy(maxFailed int, lockFor time.Duration) Option {
	return func(s *Service) {
		if maxFailed > 0 {
			s.maxFailed = maxFailed
		}
		if lockFor > 0 {
			s.lockDuration = lockFor
		}
	}
}

// NewService wires the orchestrator. A nil logger becomes a no-op logger.
func NewService(
	creds CredentialStore,
	sessions SessionStore,
	hasher credential.PasswordHasher,
	tokens *session.TokenService,
	logger *zap.SugaredLogger,
	opts ...Option,
) (*Service, error) {
	if creds == nil || sessions == nil || hasher == nil || tokens == nil {
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("credential store, session store, hasher and token service are required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		creds:        creds,
		sessions:     sessions,
		hasher:       hasher,
		tokens:       tokens,
		logger:       logger,
		clock:        clockwork.NewRealClock(),
		maxFailed:    DefaultMaxFailedAttempts,
		lockDuration: DefaultLockDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Verified against when the email is unknown so both paths pay for one hash check.
	dummy, err := hasher.Hash("timing-equalizer-password")
	if err != nil {
		return nil, oops.Code("AUTH_DUMMY_HASH").Wrapf(err, "prepare dummy hash")
	}
	s.dummyHash = dummy
	return s, nil
}

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// internal wraps a store or signer failure and hides it behind ErrInternal.
func (s *Service) internal(code, op string, err error) error {
	return internalError(oops.In("auth").Code(code).With("operation", op).Wrap(err))
}

// Register creates an account and opens its first session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.Username = strings.TrimSpace(in.Username)
	if fields := validateRegister(&in); len(fields) > 0 {
		return nil, validationError(fields)
	}

	if err := s.checkAvailable(ctx, in); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal("AUTH_HASH_FAILED", "hash password", err)
	}
	now := s.now()
	rec := &credentialentity.AuthRecord{
		Email:        in.Email,
		PasswordHash: hash,
		PhoneNumber:  in.PhoneNumber,
		CreatedAt:    now,
	}
	if in.Username != "" {
		username := in.Username
		rec.Username = &username
	}
	if err := s.creds.Create(ctx, rec); err != nil {
		var conflict *credentialrepo.ConflictError
		if errors.As(err, &conflict) {
			return nil, conflictError(conflict.Field)
		}
		return nil, s.internal("AUTH_CREATE_FAILED", "create auth record", err)
	}
	s.metrics.registered()
	s.logger.Infow("account registered", "user_id", rec.ID)

	return s.openSession(ctx, rec, in.Client, now)
}

// checkAvailable reports the first of email, username, phone_number that is
// already taken. The insert still enforces uniqueness for concurrent callers.
func (s *Service) checkAvailable(ctx context.Context, in RegisterInput) error {
	checks := []struct {
		field  string
		value  string
		lookup func(context.Context, string) (*credentialentity.AuthRecord, error)
	}{
		{"email", in.Email, s.creds.GetByEmail},
		{"username", in.Username, s.creds.GetByUsername},
		{"phone_number", in.PhoneNumber, s.creds.GetByPhoneNumber},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		_, err := c.lookup(ctx, c.value)
		switch {
		case err == nil:
			return conflictError(c.field)
		case errors.Is(err, credentialrepo.ErrNotFound):
		default:
			return s.internal("AUTH_LOOKUP_FAILED", "check "+c.field, err)
		}
	}
	return nil
}

// Login authenticates by email and password. Accounts that hit the failure
// threshold are locked for the lock duration and rejected before the
// password is looked at.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	if fields := validateLogin(email, in.Password); len(fields) > 0 {
		return nil, validationError(fields)
	}

	rec, err := s.creds.GetByEmail(ctx, email)
	if errors.Is(err, credentialrepo.ErrNotFound) {
		s.hasher.Verify(s.dummyHash, in.Password)
		s.metrics.login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, s.internal("AUTH_LOOKUP_FAILED", "get auth record by email", err)
	}

	now := s.now()
	if rec.IsLocked(now) {
		s.metrics.login("locked")
		s.logger.Infow("login rejected, account locked", "user_id", rec.ID, "locked_until", rec.LockedUntil)
		return nil, ErrLocked
	}
	if rec.LockExpired(now) {
		if _, err := s.creds.UnlockIfExpired(ctx, rec.ID, now); err != nil {
			return nil, s.internal("AUTH_UNLOCK_FAILED", "clear elapsed lock", err)
		}
		rec.LockedUntil = nil
		rec.FailedAttempts = 0
	}

	if !s.hasher.Verify(rec.PasswordHash, in.Password) {
		return nil, s.recordFailure(ctx, rec, now)
	}

	if err := s.creds.ResetFailedAttempts(ctx, rec.ID, now); err != nil {
		return nil, s.internal("AUTH_RESET_FAILED", "reset failed attempts", err)
	}
	if err := s.creds.RecordLastLogin(ctx, rec.ID, now); err != nil {
		return nil, s.internal("AUTH_LAST_LOGIN_FAILED", "record last login", err)
	}
	s.metrics.login("success")
	s.logger.Debugw("login succeeded", "user_id", rec.ID)
	return s.openSession(ctx, rec, in.Client, now)
}

func (s *Service) recordFailure(ctx context.Context, rec *credentialentity.AuthRecord, now time.Time) error {
	n, err := s.creds.IncrementFailedAttempts(ctx, rec.ID, now)
	if err != nil {
		return s.internal("AUTH_INCREMENT_FAILED", "increment failed attempts", err)
	}
	s.metrics.login("invalid_credentials")
	if n >= s.maxFailed {
		until := now.Add(s.lockDuration)
		if err := s.creds.LockUntil(ctx, rec.ID, until, now); err != nil {
			return s.internal("AUTH_LOCK_FAILED", "lock account", err)
		}
		s.metrics.locked()
		s.logger.Warnw("account locked", "user_id", rec.ID, "failed_attempts", n, "locked_until", until)
	}
	return ErrInvalidCredentials
}

func (s *Service) openSession(ctx context.Context, rec *credentialentity.AuthRecord, client ClientInfo, now time.Time) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(identityOf(rec))
	if err != nil {
		return nil, s.internal("AUTH_SIGN_FAILED", "issue token pair", err)
	}
	sess := &sessionentity.Session{
		UserID:       rec.ID,
		RefreshToken: pair.RefreshToken,
		UserAgent:    optional(client.UserAgent),
		IPAddress:    optional(client.IPAddress),
		ExpiresAt:    now.Add(s.tokens.RefreshTTL()),
		CreatedAt:    now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, s.internal("AUTH_SESSION_CREATE_FAILED", "create session", err)
	}
	return result(rec, pair, sess.ID), nil
}

// Refresh exchanges a live refresh token for a new pair. The session keeps
// its id; the presented token stops working.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, validationError(map[string]string{"refresh_token": "is required"})
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.metrics.refresh("invalid")
		return nil, ErrInvalidSession
	}

	sess, err := s.sessions.GetByRefreshToken(ctx, refreshToken)
	if errors.Is(err, sessionrepo.ErrNotFound) {
		s.metrics.refresh("revoked")
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, s.internal("AUTH_SESSION_LOOKUP_FAILED", "get session by refresh token", err)
	}

	now := s.now()
	if sess.Expired(now) {
		if err := s.sessions.DeleteByID(ctx, sess.ID); err != nil {
			return nil, s.internal("AUTH_SESSION_DELETE_FAILED", "delete expired session", err)
		}
		s.metrics.refresh("expired")
		return nil, ErrExpiredSession
	}
	if sess.UserID != claims.UserID {
		s.logger.Warnw("refresh token subject does not match session", "session_id", sess.ID, "user_id", sess.UserID, "token_user_id", claims.UserID)
		s.metrics.refresh("invalid")
		return nil, ErrInvalidSession
	}

	rec, err := s.creds.GetByID(ctx, sess.UserID)
	if errors.Is(err, credentialrepo.ErrNotFound) {
		if err := s.sessions.DeleteByID(ctx, sess.ID); err != nil {
			return nil, s.internal("AUTH_SESSION_DELETE_FAILED", "delete orphan session", err)
		}
		s.metrics.refresh("invalid")
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, s.internal("AUTH_LOOKUP_FAILED", "get auth record by id", err)
	}

	pair, err := s.tokens.IssuePair(identityOf(rec))
	if err != nil {
		return nil, s.internal("AUTH_SIGN_FAILED", "issue token pair", err)
	}
	rotated, err := s.sessions.Rotate(ctx, sess.ID, refreshToken, pair.RefreshToken, now.Add(s.tokens.RefreshTTL()), now)
	if errors.Is(err, sessionrepo.ErrNotFound) {
		// someone else rotated or revoked it first
		s.metrics.refresh("revoked")
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, s.internal("AUTH_ROTATE_FAILED", "rotate session", err)
	}
	s.metrics.refresh("success")
	return result(rec, pair, rotated.ID), nil
}

// Logout revokes the session holding refreshToken. Unknown or empty tokens
// are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.sessions.DeleteByRefreshToken(ctx, refreshToken); err != nil {
		return s.internal("AUTH_SESSION_DELETE_FAILED", "delete session by refresh token", err)
	}
	return nil
}

// LogoutAll revokes every session of userID and returns how many were removed.
func (s *Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, s.internal("AUTH_SESSION_DELETE_FAILED", "delete all sessions", err)
	}
	s.logger.Infow("all sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

// ListSessions returns the sessions of userID, newest first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]*sessionentity.Session, error) {
	list, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.internal("AUTH_SESSION_LIST_FAILED", "list sessions", err)
	}
	return list, nil
}

// Introspect verifies an access token without touching storage.
func (s *Service) Introspect(accessToken string) (*session.Claims, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// Unlock clears the lock and failure counter of an account.
func (s *Service) Unlock(ctx context.Context, userID int64) error {
	err := s.creds.Unlock(ctx, userID, s.now())
	if errors.Is(err, credentialrepo.ErrNotFound) {
		return ErrUnknownAccount
	}
	if err != nil {
		return s.internal("AUTH_UNLOCK_FAILED", "unlock account", err)
	}
	s.logger.Infow("account unlocked", "user_id", userID)
	return nil
}

// UnlockByEmail resolves the account by email and unlocks it.
func (s *Service) UnlockByEmail(ctx context.Context, email string) (int64, error) {
	rec, err := s.creds.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, credentialrepo.ErrNotFound) {
		return 0, ErrUnknownAccount
	}
	if err != nil {
		return 0, s.internal("AUTH_LOOKUP_FAILED", "get auth record by email", err)
	}
	return rec.ID, s.Unlock(ctx, rec.ID)
}

// SweepExpired deletes sessions past their expiry. Safe to run repeatedly.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, s.internal("AUTH_SWEEP_FAILED", "delete expired sessions", err)
	}
	s.metrics.swept(n)
	s.logger.Infow("expired sessions swept", "count", n)
	return n, nil
}

func identityOf(rec *credentialentity.AuthRecord) session.Identity {
	return session.Identity{UserID: rec.ID, Email: rec.Email, Username: rec.UsernameValue()}
}

func result(rec *credentialentity.AuthRecord, pair session.TokenPair, sessionID int64) *AuthResult {
	return &AuthResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		SessionID:    sessionID,
		User: UserSummary{
			ID:       rec.ID,
			Email:    rec.Email,
			Username: rec.UsernameValue(),
		},
	}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
