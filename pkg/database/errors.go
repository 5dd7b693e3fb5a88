package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// UniqueViolation reports whether err is a unique constraint failure. The
// returned target names what collided: the constraint name (or the key
// detail when no constraint is reported) on postgres, "table.column" on sqlite.
func UniqueViolation(err error) (target string, ok bool) {
	if err == nil {
		return "", false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) != pgUniqueViolation {
			return "", false
		}
		if pqErr.Constraint != "" {
			return pqErr.Constraint, true
		}
		return pqErr.Detail, true
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return sqliteConstraintTarget(liteErr.Error()), true
		}
		return "", false
	}
	return "", false
}

// sqliteConstraintTarget pulls "table.column" out of messages such as
// "constraint failed: UNIQUE constraint failed: auth_records.email (2067)".
func sqliteConstraintTarget(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return msg
	}
	rest := msg[i+len(marker):]
	if j := strings.Index(rest, " ("); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}
