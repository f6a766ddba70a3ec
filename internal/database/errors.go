package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// uniqueViolation is the SQLSTATE postgres returns for duplicate keys
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a duplicate key on insert
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return containsIgnoreCase(err.Error(), "UNIQUE constraint failed")
}

// isConnectionError reports whether err means the database could not be
// reached or the session was lost. SQL errors raised by the server, such as
// syntax errors or deadlocks, are not connection errors.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// A per-migration timeout is the migration's own failure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57P01-57P03 are shutdown states
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"conn closed",
		"connection timeout",
		"too many connections",
		"no such host",
	}

	errStr := err.Error()
	for _, connErr := range connectionErrors {
		if containsIgnoreCase(errStr, connErr) {
			return true
		}
	}

	return false
}

// containsIgnoreCase checks if a string contains a substring (case-insensitive)
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
