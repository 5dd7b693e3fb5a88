package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const maxBodyBytes = 1 << 20

// Handler exposes the Service over HTTP.
type Handler struct {
	svc    *Service
	cookie CookieConfig
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, cookie CookieConfig, logger *zap.SugaredLogger) *Handler {
	if cookie.Name == "" {
		cookie.Name = "session"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if cookie.MaxAge == 0 {
		cookie.MaxAge = session.RefreshTTL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, cookie: cookie, logger: logger}
}

// Mount registers every auth route on mux under base, e.g. "/api/auth".
func (h *Handler) Mount(mux *http.ServeMux, base string) {
	base = strings.TrimRight(base, "/")
	mux.HandleFunc("POST "+base+"/register", h.Register)
	mux.HandleFunc("POST "+base+"/login", h.Login)
	mux.HandleFunc("POST "+base+"/refresh", h.Refresh)
	mux.HandleFunc("POST "+base+"/logout", h.Logout)
	mux.HandleFunc("POST "+base+"/logout/all", h.LogoutAll)
	mux.HandleFunc("GET "+base+"/session", h.Session)
	mux.HandleFunc("GET "+base+"/sessions", h.Sessions)
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number"`
	Username    string `json:"username,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type sessionResponse struct {
	User      UserSummary `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.Register(r.Context(), RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		Username:    req.Username,
		Client:      clientInfo(r),
	})
	if err != nil {
		h.logger.Debugw("register failed", "err", err)
		h.writeError(w, err)
		return
	}
	h.writeAuthResult(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.Login(r.Context(), LoginInput{Email: req.Email, Password: req.Password, Client: clientInfo(r)})
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		h.writeError(w, err)
		return
	}
	h.writeAuthResult(w, http.StatusOK, res)
}

// Refresh takes the token from the body and falls back to the session cookie.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		h.writeError(w, err)
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = h.cookie.refreshToken(r)
	}
	res, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		h.logger.Debugw("refresh failed", "err", err)
		if KindOf(err) == KindSession {
			h.cookie.clear(w)
		}
		h.writeError(w, err)
		return
	}
	h.writeAuthResult(w, http.StatusOK, res)
}

// Logout always answers 200 and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	// the body is optional here; a malformed one is treated as absent
	_ = decodeBody(w, r, &req, true)
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token = h.cookie.refreshToken(r)
	}
	if err := h.svc.Logout(r.Context(), token); err != nil {
		utilities.LogError(h.logger, "logout failed", err)
	}
	h.cookie.clear(w)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, err := h.bearer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n, err := h.svc.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.cookie.clear(w)
	h.writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// Session returns the identity carried by the bearer access token.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims, err := h.bearer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := sessionResponse{User: UserSummary{ID: claims.UserID, Email: claims.Email, Username: claims.Username}}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, err := h.bearer(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.svc.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) bearer(r *http.Request) (*session.Claims, error) {
	token, ok := session.ExtractFromHeader(r.Header.Get("Authorization"))
	if !ok {
		return nil, ErrInvalidAccessToken
	}
	return h.svc.Introspect(token)
}

func (h *Handler) writeAuthResult(w http.ResponseWriter, status int, res *AuthResult) {
	if err := h.cookie.set(w, res); err != nil {
		h.logger.Warnw("set session cookie", "err", err)
	}
	h.writeJSON(w, status, res)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var aerr *Error
	if !errors.As(err, &aerr) {
		aerr = internalError(err)
	}
	if aerr.Kind == KindInternal {
		utilities.LogError(h.logger, "auth request failed", err)
	}
	h.writeJSON(w, StatusFor(aerr.Kind), errorResponse{
		Error:   aerr.Kind.String(),
		Message: aerr.Message,
		Fields:  aerr.Fields,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindAuthentication, KindSession:
		return http.StatusUnauthorized
	case KindLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON object into v. With optional set, an empty body is fine.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return validationError(map[string]string{"body": "must be a JSON object"})
	}
	return nil
}

func clientInfo(r *http.Request) ClientInfo {
	return ClientInfo{UserAgent: r.UserAgent(), IPAddress: utilities.ClientIP(r)}
}
