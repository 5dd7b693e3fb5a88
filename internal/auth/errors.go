package auth

import (
	"errors"
	"sort"
	"strings"
)

// Kind classifies every error the Service returns.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindLocked
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "invalid_credentials"
	case KindLocked:
		return "account_locked"
	case KindSession:
		return "invalid_session"
	default:
		return "internal_error"
	}
}

// Error is the only error type that leaves the Service. Internal causes
// are kept for logging and never rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	// Fields maps input field -> problem (validation) or the colliding field (conflict).
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Kind so callers can use errors.Is(err, auth.ErrLocked).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation         = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrConflict           = &Error{Kind: KindConflict, Message: "already registered"}
	ErrInvalidCredentials = &Error{Kind: KindAuthentication, Message: "invalid email or password"}
	ErrLocked             = &Error{Kind: KindLocked, Message: "account is temporarily locked"}
	ErrInvalidSession     = &Error{Kind: KindSession, Message: "invalid or revoked session"}
	ErrInvalidAccessToken = &Error{Kind: KindSession, Message: "invalid or expired access token"}
	ErrExpiredSession     = &Error{Kind: KindSession, Message: "session has expired"}
	ErrUnknownAccount     = &Error{Kind: KindValidation, Message: "unknown account"}
	ErrInternal           = &Error{Kind: KindInternal, Message: "internal error"}
)

func validationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "invalid input", Fields: fields}
}

func conflictError(field string) *Error {
	if field == "" {
		return &Error{Kind: KindConflict, Message: "already registered"}
	}
	return &Error{
		Kind:    KindConflict,
		Message: field + " is already registered",
		Fields:  map[string]string{field: "already registered"},
	}
}

func internalError(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// KindOf reports the Kind of err, treating anything foreign as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
