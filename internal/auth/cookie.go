package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// CookieConfig controls the session cookie set on register, login and refresh.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	MaxAge time.Duration
}

// sessionCookie is the cookie payload. SessionID carries the refresh token.
type sessionCookie struct {
	SessionID string      `json:"sessionId"`
	User      UserSummary `json:"user"`
}

var errBadCookie = errors.New("malformed session cookie")

func encodeSessionCookie(c sessionCookie) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSessionCookie(value string) (sessionCookie, error) {
	var c sessionCookie
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return c, errBadCookie
	}
	if err := json.Unmarshal(raw, &c); err != nil || c.SessionID == "" {
		return c, errBadCookie
	}
	return c, nil
}

func (cfg CookieConfig) set(w http.ResponseWriter, res *AuthResult) error {
	value, err := encodeSessionCookie(sessionCookie{SessionID: res.RefreshToken, User: res.User})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     cfg.Path,
		MaxAge:   int(cfg.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (cfg CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// refreshToken returns the refresh token stored in the request's session
// cookie, or "" when there is none or it does not decode.
func (cfg CookieConfig) refreshToken(r *http.Request) string {
	c, err := r.Cookie(cfg.Name)
	if err != nil {
		return ""
	}
	payload, err := decodeSessionCookie(c.Value)
	if err != nil {
		return ""
	}
	return payload.SessionID
}
