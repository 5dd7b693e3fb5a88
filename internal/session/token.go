package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Token kinds carried in the "type" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Default lifetimes.
const (
	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrInvalidToken covers bad signatures, expiry, malformed input and kind mismatch.
	ErrInvalidToken = errors.New("invalid token")
	ErrWeakSecrets  = errors.New("access and refresh secrets must be non-empty and distinct")
)

// Identity is the logical payload shared by both tokens of a pair.
type Identity struct {
	UserID   int64
	Email    string
	Username string
}

// Claims is the signed token payload.
type Claims struct {
	UserID   int64  `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Username: c.Username}
}

// TokenPair is what IssuePair hands back. ExpiresIn is the access lifetime in seconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// TokenService signs and verifies access and refresh tokens with two
// independent HMAC secrets. It holds no mutable state.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	clock         clockwork.Clock
}

// TokenOption customizes a TokenService.
type TokenOption func(*TokenService)

// WithTTLs overrides the access and refresh lifetimes.
func WithTTLs(access, refresh time.Duration) TokenOption {
	return func(s *TokenService) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

// WithIssuer sets the iss claim.
func WithIssuer(iss string) TokenOption {
	return func(s *TokenService) { s.issuer = iss }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) TokenOption {
	return func(s *TokenService) { s.clock = c }
}

func NewTokenService(accessSecret, refreshSecret string, opts ...TokenOption) (*TokenService, error) {
	if accessSecret == "" || refreshSecret == "" || accessSecret == refreshSecret {
		return nil, ErrWeakSecrets
	}
	s := &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     AccessTTL,
		refreshTTL:    RefreshTTL,
		clock:         clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// RefreshTTL is the refresh token lifetime, which is also the session lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssuePair signs an access and a refresh token for the same identity.
func (s *TokenService) IssuePair(id Identity) (TokenPair, error) {
	now := s.clock.Now()
	access, err := s.sign(id, KindAccess, now, s.accessTTL, s.accessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(id, KindRefresh, now, s.refreshTTL, s.refreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

func (s *TokenService) sign(id Identity, kind string, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	claims := Claims{
		UserID:   id.UserID,
		Email:    id.Email,
		Username: id.Username,
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// unique per token so two pairs minted in the same second differ
			ID: utilities.NewKSUID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess validates an access token and returns its claims.
func (s *TokenService) VerifyAccess(token string) (*Claims, error) {
	return s.verify(token, KindAccess, s.accessSecret)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *TokenService) VerifyRefresh(token string) (*Claims, error) {
	return s.verify(token, KindRefresh, s.refreshSecret)
}

func (s *TokenService) verify(token, kind string, secret []byte) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractFromHeader returns the token of a "Bearer <token>" header value.
// Any other shape yields ok=false.
func ExtractFromHeader(value string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return "", false
	}
	token := strings.TrimSpace(value[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
