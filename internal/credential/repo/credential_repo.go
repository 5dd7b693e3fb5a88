package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/credential/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// ErrNotFound is returned when no auth record matches the lookup.
var ErrNotFound = errors.New("auth record not found")

// ConflictError reports a uniqueness violation on create or update.
// Field is one of email, username, phone_number (empty if undetermined).
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return "auth record already exists"
	}
	return e.Field + " already in use"
}

const selectColumns = `id, email, username, password_hash, phone_number, email_verified, phone_verified,
	failed_attempts, last_login_at, locked_until, created_at, updated_at`

// CredentialRepo provides data access for the auth_records table using sqlx.
type CredentialRepo struct {
	db *sqlx.DB
}

func NewCredentialRepo(db *sqlx.DB) *CredentialRepo { return &CredentialRepo{db: db} }

// EnsureTable creates the auth_records table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *CredentialRepo) EnsureTable(ctx context.Context) error {
	const pg = `
CREATE TABLE IF NOT EXISTS auth_records (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  username TEXT UNIQUE,
  password_hash TEXT NOT NULL,
  phone_number TEXT NOT NULL UNIQUE,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  phone_verified BOOLEAN NOT NULL DEFAULT false,
  failed_attempts INT NOT NULL DEFAULT 0 CHECK (failed_attempts >= 0),
  last_login_at TIMESTAMPTZ,
  locked_until TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ
);`
	const lite = `
CREATE TABLE IF NOT EXISTS auth_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  email TEXT NOT NULL UNIQUE,
  username TEXT UNIQUE,
  password_hash TEXT NOT NULL,
  phone_number TEXT NOT NULL UNIQUE,
  email_verified BOOLEAN NOT NULL DEFAULT 0,
  phone_verified BOOLEAN NOT NULL DEFAULT 0,
  failed_attempts INTEGER NOT NULL DEFAULT 0 CHECK (failed_attempts >= 0),
  last_login_at DATETIME,
  locked_until DATETIME,
  created_at DATETIME NOT NULL,
  updated_at DATETIME
);`
	ddl := pg
	if r.db.DriverName() == database.DriverSQLite {
		ddl = lite
	}
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new auth record with zeroed lockout state and sets rec.ID.
func (r *CredentialRepo) Create(ctx context.Context, rec *entity.AuthRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.FailedAttempts = 0
	rec.LockedUntil = nil
	rec.LastLoginAt = nil
	rec.UpdatedAt = nil

	q := r.db.Rebind(`INSERT INTO auth_records
		(email, username, password_hash, phone_number, email_verified, phone_verified, failed_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?) RETURNING id`)
	err := r.db.QueryRowxContext(ctx, q,
		rec.Email, rec.Username, rec.PasswordHash, rec.PhoneNumber,
		rec.EmailVerified, rec.PhoneVerified, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return classify(err)
	}
	return nil
}

// GetByID fetches a full auth record.
func (r *CredentialRepo) GetByID(ctx context.Context, id int64) (*entity.AuthRecord, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail returns the record matched by email or ErrNotFound.
func (r *CredentialRepo) GetByEmail(ctx context.Context, email string) (*entity.AuthRecord, error) {
	return r.getBy(ctx, "email", email)
}

// GetByUsername fetches by username.
func (r *CredentialRepo) GetByUsername(ctx context.Context, username string) (*entity.AuthRecord, error) {
	return r.getBy(ctx, "username", username)
}

// GetByPhoneNumber fetches by phone number.
func (r *CredentialRepo) GetByPhoneNumber(ctx context.Context, phone string) (*entity.AuthRecord, error) {
	return r.getBy(ctx, "phone_number", phone)
}

// getBy is only ever called with a column name from this file.
func (r *CredentialRepo) getBy(ctx context.Context, column string, value any) (*entity.AuthRecord, error) {
	q := r.db.Rebind(`SELECT ` + selectColumns + ` FROM auth_records WHERE ` + column + ` = ?`)
	var rec entity.AuthRecord
	if err := r.db.GetContext(ctx, &rec, q, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Update applies a partial update and returns the stored row.
func (r *CredentialRepo) Update(ctx context.Context, id int64, patch entity.AuthRecordPatch, now time.Time) (*entity.AuthRecord, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now.UTC()}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Username != nil {
		add("username", *patch.Username)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.PhoneNumber != nil {
		add("phone_number", *patch.PhoneNumber)
	}
	if patch.EmailVerified != nil {
		add("email_verified", *patch.EmailVerified)
	}
	if patch.PhoneVerified != nil {
		add("phone_verified", *patch.PhoneVerified)
	}
	args = append(args, id)

	q := `UPDATE auth_records SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if err := r.exec(ctx, q, args...); err != nil {
		return nil, classify(err)
	}
	return r.GetByID(ctx, id)
}

// IncrementFailedAttempts increments the failure counter atomically and returns new value.
func (r *CredentialRepo) IncrementFailedAttempts(ctx context.Context, id int64, now time.Time) (int, error) {
	q := r.db.Rebind(`UPDATE auth_records SET failed_attempts = failed_attempts + 1, updated_at = ?
		WHERE id = ? RETURNING failed_attempts`)
	var v int
	if err := r.db.GetContext(ctx, &v, q, now.UTC(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return v, nil
}

// ResetFailedAttempts zeroes the failure counter.
func (r *CredentialRepo) ResetFailedAttempts(ctx context.Context, id int64, now time.Time) error {
	return r.exec(ctx, `UPDATE auth_records SET failed_attempts = 0, updated_at = ? WHERE id = ?`, now.UTC(), id)
}

// RecordLastLogin stamps last_login_at.
func (r *CredentialRepo) RecordLastLogin(ctx context.Context, id int64, now time.Time) error {
	now = now.UTC()
	return r.exec(ctx, `UPDATE auth_records SET last_login_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
}

// LockUntil blocks login for the record until the given instant.
func (r *CredentialRepo) LockUntil(ctx context.Context, id int64, until, now time.Time) error {
	return r.exec(ctx, `UPDATE auth_records SET locked_until = ?, updated_at = ? WHERE id = ?`, until.UTC(), now.UTC(), id)
}

// Unlock clears the lock and the failure counter unconditionally.
func (r *CredentialRepo) Unlock(ctx context.Context, id int64, now time.Time) error {
	return r.exec(ctx, `UPDATE auth_records SET locked_until = NULL, failed_attempts = 0, updated_at = ? WHERE id = ?`, now.UTC(), id)
}

// UnlockIfExpired clears an elapsed lock (and the counter) in one conditional
// update. It reports false when there was no elapsed lock to clear.
func (r *CredentialRepo) UnlockIfExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	now = now.UTC()
	q := r.db.Rebind(`UPDATE auth_records SET locked_until = NULL, failed_attempts = 0, updated_at = ?
		WHERE id = ? AND locked_until IS NOT NULL AND locked_until <= ? RETURNING 1`)
	var one int
	err := r.db.GetContext(ctx, &one, q, now, id, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// exec runs a single-row mutation and maps zero affected rows to ErrNotFound.
func (r *CredentialRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// classify turns unique violations into *ConflictError.
func classify(err error) error {
	target, ok := database.UniqueViolation(err)
	if !ok {
		return err
	}
	return &ConflictError{Field: conflictField(target)}
}

func conflictField(target string) string {
	for _, f := range []string{"phone_number", "username", "email"} {
		if strings.HasSuffix(target, "."+f) ||
			strings.Contains(target, "_"+f+"_") ||
			strings.Contains(target, "("+f+")") {
			return f
		}
	}
	return ""
}
