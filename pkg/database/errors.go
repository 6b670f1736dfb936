package database

import (
	"database/sql/driver"
	"errors"
	"net"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// IsUnavailable reports whether err indicates the store itself is
// unreachable rather than a bad query.
func IsUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// StoreError maps a database error onto the API error taxonomy: 503 when the
// store is unreachable, 500 otherwise.
func StoreError(err error, message string) error {
	if IsUnavailable(err) {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "catalog store unavailable")
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

// IsConflict reports whether err is a retryable write-write conflict:
// a unique violation, serialization failure, or deadlock. Losing writers
// retry the whole transaction.
func IsConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation, pqSerializationFailure, pqDeadlockDetected:
			return true
		}
	}
	return false
}
