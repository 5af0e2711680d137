package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-constraint failure. When hints are
// provided, at least one must appear in the constraint name or the driver message
// (Postgres reports the constraint name, sqlite reports table.column).
func IsUniqueViolation(err error, hints ...string) bool {
	if err == nil {
		return false
	}

	matched := false
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		matched = true
	case errors.Is(err, gorm.ErrDuplicatedKey):
		matched = true
	default:
		msg := err.Error()
		matched = strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
	}
	if !matched {
		return false
	}
	if len(hints) == 0 {
		return true
	}

	haystack := err.Error()
	if pgErr != nil {
		haystack += " " + pgErr.ConstraintName
	}
	for _, hint := range hints {
		if hint != "" && strings.Contains(haystack, hint) {
			return true
		}
	}
	return false
}
