package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasPGCode(err, "23505") {
		return true
	}

	// PostgreSQL without a structured error
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsDeadlockErr reports whether the error is a deadlock or serialization
// failure that should be retried in place.
func IsDeadlockErr(err error) bool {
	if err == nil {
		return false
	}
	if hasPGCode(err, "40P01") || hasPGCode(err, "40001") {
		return true
	}
	if strings.Contains(err.Error(), "deadlock detected") {
		return true
	}
	// MySQL (error codes 1213 deadlock, 1205 lock wait timeout)
	if strings.Contains(err.Error(), "Error 1213") || strings.Contains(err.Error(), "Error 1205") {
		return true
	}
	return false
}

func IsLockTimeoutErr(err error) bool {
	return hasPGCode(err, "55P03")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
