package entity

import "time"

// Session is one persisted refresh token, scoped to a user. Rows are
// rotated in place on refresh and removed on logout or expiry.
type Session struct {
	ID           int64      `db:"id" json:"id"`
	UserID       int64      `db:"user_id" json:"user_id"`
	RefreshToken string     `db:"refresh_token" json:"-"`
	UserAgent    *string    `db:"user_agent" json:"user_agent,omitempty"`
	IPAddress    *string    `db:"ip_address" json:"ip_address,omitempty"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionPatch carries a partial update; nil fields are left untouched.
type SessionPatch struct {
	RefreshToken *string
	UserAgent    *string
	IPAddress    *string
	ExpiresAt    *time.Time
}
