package database

import (
	"errors"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// pqIntegrityClass is the SQLSTATE class for integrity constraint violations
const pqIntegrityClass = "23"

// IsConstraintViolation reports whether err was raised by a schema constraint
// (unique, foreign key, check or not-null) rather than by the connection.
func IsConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// extended result codes keep the primary code in the low byte
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == pqIntegrityClass
	}
	return false
}
