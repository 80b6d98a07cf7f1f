package swapdb

import (
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// isUniqueViolation reports whether err is a unique-constraint violation,
// checked the Postgres-specific way via pgerrcode and, for SQLite, by
// matching modernc.org/sqlite's plain-text constraint error the way the
// teacher's postgres.go/sqlite.go pair each detect duplicates in their own
// idiom.
func isUniqueViolation(err error, dialect string) bool {
	if err == nil {
		return false
	}

	if dialect == "postgres" {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return pgErr.Code == pgerrcode.UniqueViolation
		}
		return false
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
