package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
)

const registerBody = `{"email":"a@x.com","password":"Passw0rd!","phone_number":"5551234567","username":"alice"}`

func newServer(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	mux := http.NewServeMux()
	auth.NewHandler(f.svc, auth.CookieConfig{Name: "session"}, zaptest.NewLogger(t).Sugar()).Mount(mux, "/api/auth/")
	return f, mux
}

func do(h http.Handler, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func sessionCookieOf(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) auth.AuthResult {
	t.Helper()
	var res auth.AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHandler_Register(t *testing.T) {
	_, h := newServer(t)

	rec := do(h, http.MethodPost, "/api/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	res := decodeResult(t, rec)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, "alice", res.User.Username)
	assert.NotZero(t, res.SessionID)

	c := sessionCookieOf(t, rec)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 7*24*3600, c.MaxAge)

	rec = do(h, http.MethodPost, "/api/auth/register", registerBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))
}

func TestHandler_RegisterValidation(t *testing.T) {
	_, h := newServer(t)

	rec := do(h, http.MethodPost, "/api/auth/register", `{"email":"nope","password":"short","phone_number":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "password")
	assert.Contains(t, body.Fields, "phone_number")

	rec = do(h, http.MethodPost, "/api/auth/register", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_LoginAndLockout(t *testing.T) {
	_, h := newServer(t)
	require.Equal(t, http.StatusCreated, do(h, http.MethodPost, "/api/auth/register", registerBody).Code)

	rec := do(h, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeResult(t, rec).AccessToken)

	for i := 0; i < 5; i++ {
		rec = do(h, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"wrong"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_credentials", errorCode(t, rec))
	}
	rec = do(h, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_locked", errorCode(t, rec))
}

func TestHandler_RefreshWithCookieAndBody(t *testing.T) {
	_, h := newServer(t)
	reg := do(h, http.MethodPost, "/api/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, reg.Code)
	first := sessionCookieOf(t, reg)

	rec := do(h, http.MethodPost, "/api/auth/refresh", "", withCookie(first))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := decodeResult(t, rec)
	assert.Equal(t, decodeResult(t, reg).SessionID, rotated.SessionID)

	// spent cookie is rejected and cleared
	rec = do(h, http.MethodPost, "/api/auth/refresh", "", withCookie(first))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_session", errorCode(t, rec))
	assert.Less(t, sessionCookieOf(t, rec).MaxAge, 0)

	rec = do(h, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"`+rotated.RefreshToken+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/api/auth/refresh", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Logout(t *testing.T) {
	_, h := newServer(t)
	reg := do(h, http.MethodPost, "/api/auth/register", registerBody)
	c := sessionCookieOf(t, reg)

	rec := do(h, http.MethodPost, "/api/auth/logout", "", withCookie(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, sessionCookieOf(t, rec).MaxAge, 0)

	rec = do(h, http.MethodPost, "/api/auth/refresh", "", withCookie(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// again, and with nothing at all
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/auth/logout", "", withCookie(c)).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/auth/logout", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/auth/logout", "{garbage").Code)
}

func TestHandler_SessionEndpoints(t *testing.T) {
	_, h := newServer(t)
	res := decodeResult(t, do(h, http.MethodPost, "/api/auth/register", registerBody))
	require.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Passw0rd!"}`).Code)

	rec := do(h, http.MethodGet, "/api/auth/session", "", withBearer(res.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var who struct {
		User auth.UserSummary `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &who))
	assert.Equal(t, res.User, who.User)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/auth/session", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/auth/session", "", withBearer(res.RefreshToken)).Code)

	rec = do(h, http.MethodGet, "/api/auth/sessions", "", withBearer(res.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []map[string]any `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)
	assert.NotContains(t, list.Sessions[0], "refresh_token")

	rec = do(h, http.MethodPost, "/api/auth/logout/all", "", withBearer(res.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":2}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"`+res.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_MethodMismatch(t *testing.T) {
	_, h := newServer(t)
	rec := do(h, http.MethodGet, "/api/auth/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, auth.StatusFor(auth.KindValidation))
	assert.Equal(t, http.StatusConflict, auth.StatusFor(auth.KindConflict))
	assert.Equal(t, http.StatusUnauthorized, auth.StatusFor(auth.KindAuthentication))
	assert.Equal(t, http.StatusLocked, auth.StatusFor(auth.KindLocked))
	assert.Equal(t, http.StatusUnauthorized, auth.StatusFor(auth.KindSession))
	assert.Equal(t, http.StatusInternalServerError, auth.StatusFor(auth.KindInternal))
}
