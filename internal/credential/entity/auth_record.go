package entity

import "time"

// AuthRecord is the single authentication row kept per identity in the
// `auth_records` table. Profile data lives elsewhere.
type AuthRecord struct {
	ID             int64      `db:"id"`
	Email          string     `db:"email"`
	Username       *string    `db:"username"`
	PasswordHash   string     `db:"password_hash"`
	PhoneNumber    string     `db:"phone_number"`
	EmailVerified  bool       `db:"email_verified"`
	PhoneVerified  bool       `db:"phone_verified"`
	FailedAttempts int        `db:"failed_attempts"`
	LastLoginAt    *time.Time `db:"last_login_at"`
	LockedUntil    *time.Time `db:"locked_until"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
}

// IsLocked reports whether locked_until is still in the future at now.
func (a *AuthRecord) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LockExpired reports whether a lock was set and has since elapsed.
func (a *AuthRecord) LockExpired(now time.Time) bool {
	return a.LockedUntil != nil && !now.Before(*a.LockedUntil)
}

// UsernameValue returns the username or "" when none was registered.
func (a *AuthRecord) UsernameValue() string {
	if a.Username == nil {
		return ""
	}
	return *a.Username
}

// AuthRecordPatch carries a partial update; nil fields are left untouched.
type AuthRecordPatch struct {
	Email         *string
	Username      *string
	PasswordHash  *string
	PhoneNumber   *string
	EmailVerified *bool
	PhoneVerified *bool
}
