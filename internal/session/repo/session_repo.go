package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// NOTE: auth_records must exist first; user_id references it.

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("session not found")

// ErrDuplicateToken is returned when a refresh token value is already stored.
var ErrDuplicateToken = errors.New("refresh token already stored")

const selectColumns = `id, user_id, refresh_token, user_agent, ip_address, expires_at, created_at, updated_at`

type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// EnsureTable creates the sessions table and its user index if missing.
func (r *SessionRepo) EnsureTable(ctx context.Context) error {
	const pg = `
CREATE TABLE IF NOT EXISTS sessions (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES auth_records(id) ON DELETE CASCADE,
  refresh_token TEXT NOT NULL UNIQUE,
  user_agent TEXT,
  ip_address TEXT,
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ
)`
	const lite = `
CREATE TABLE IF NOT EXISTS sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES auth_records(id) ON DELETE CASCADE,
  refresh_token TEXT NOT NULL UNIQUE,
  user_agent TEXT,
  ip_address TEXT,
  expires_at DATETIME NOT NULL,
  created_at DATETIME NOT NULL,
  updated_at DATETIME
)`
	ddl := pg
	if r.db.DriverName() == database.DriverSQLite {
		ddl = lite
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	const idx = `CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id)`
	if _, err := r.db.ExecContext(ctx, idx); err != nil {
		return err
	}
	const idxExp = `CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at)`
	_, err := r.db.ExecContext(ctx, idxExp)
	return err
}

// Create persists a new session and sets s.ID.
func (r *SessionRepo) Create(ctx context.Context, s *entity.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.UpdatedAt = nil

	q := r.db.Rebind(`INSERT INTO sessions (user_id, refresh_token, user_agent, ip_address, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
	err := r.db.QueryRowxContext(ctx, q,
		s.UserID, s.RefreshToken, s.UserAgent, s.IPAddress, s.ExpiresAt, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		if _, dup := database.UniqueViolation(err); dup {
			return ErrDuplicateToken
		}
		return err
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id int64) (*entity.Session, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

// GetByRefreshToken is the revocation check: a missing row means the token
// was logged out, rotated away or never issued.
func (r *SessionRepo) GetByRefreshToken(ctx context.Context, token string) (*entity.Session, error) {
	return r.getOne(ctx, `WHERE refresh_token = ?`, token)
}

func (r *SessionRepo) getOne(ctx context.Context, where string, arg any) (*entity.Session, error) {
	q := r.db.Rebind(`SELECT ` + selectColumns + ` FROM sessions ` + where)
	var s entity.Session
	if err := r.db.GetContext(ctx, &s, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListByUser returns the user's sessions, newest first.
func (r *SessionRepo) ListByUser(ctx context.Context, userID int64) ([]*entity.Session, error) {
	q := r.db.Rebind(`SELECT ` + selectColumns + ` FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`)
	out := []*entity.Session{}
	if err := r.db.SelectContext(ctx, &out, q, userID); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies a partial update and returns the stored row.
func (r *SessionRepo) Update(ctx context.Context, id int64, patch entity.SessionPatch, now time.Time) (*entity.Session, error) {
	sets := []string{"updated_at = ?"}
	args := []any{now.UTC()}
	if patch.RefreshToken != nil {
		sets = append(sets, "refresh_token = ?")
		args = append(args, *patch.RefreshToken)
	}
	if patch.UserAgent != nil {
		sets = append(sets, "user_agent = ?")
		args = append(args, *patch.UserAgent)
	}
	if patch.IPAddress != nil {
		sets = append(sets, "ip_address = ?")
		args = append(args, *patch.IPAddress)
	}
	if patch.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, patch.ExpiresAt.UTC())
	}
	args = append(args, id)

	q := r.db.Rebind(`UPDATE sessions SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	n, err := r.execCount(ctx, q, args...)
	if err != nil {
		if _, dup := database.UniqueViolation(err); dup {
			return nil, ErrDuplicateToken
		}
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// Rotate swaps the refresh token of session id from oldToken to newToken
// and moves expires_at. The swap only happens while oldToken is still the
// stored value, so a token can be rotated away exactly once.
func (r *SessionRepo) Rotate(ctx context.Context, id int64, oldToken, newToken string, expiresAt, now time.Time) (*entity.Session, error) {
	q := r.db.Rebind(`UPDATE sessions SET refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND refresh_token = ?`)
	n, err := r.execCount(ctx, q, newToken, expiresAt.UTC(), now.UTC(), id, oldToken)
	if err != nil {
		if _, dup := database.UniqueViolation(err); dup {
			return nil, ErrDuplicateToken
		}
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// DeleteByID removes one session. Missing rows are not an error.
func (r *SessionRepo) DeleteByID(ctx context.Context, id int64) error {
	_, err := r.execCount(ctx, r.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	return err
}

// DeleteByRefreshToken removes the session holding token, if any.
func (r *SessionRepo) DeleteByRefreshToken(ctx context.Context, token string) error {
	_, err := r.execCount(ctx, r.db.Rebind(`DELETE FROM sessions WHERE refresh_token = ?`), token)
	return err
}

// DeleteAllForUser revokes every session of a user and returns how many went.
func (r *SessionRepo) DeleteAllForUser(ctx context.Context, userID int64) (int64, error) {
	return r.execCount(ctx, r.db.Rebind(`DELETE FROM sessions WHERE user_id = ?`), userID)
}

// DeleteExpired removes sessions whose expires_at is at or before now.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.execCount(ctx, r.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.UTC())
}

func (r *SessionRepo) execCount(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
