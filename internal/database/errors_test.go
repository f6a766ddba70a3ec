package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// Mock error for testing error handling
type mockError struct {
	message string
}

func (e *mockError) Error() string {
	return e.message
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Nil error", nil, false},
		{"Translated duplicate key", fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{"Postgres unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"Postgres foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"SQLite constraint message", &mockError{message: "UNIQUE constraint failed: schema_migrations.version"}, true},
		{"Other error", assert.AnError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isUniqueViolation(tt.err))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Nil error", nil, false},
		{"Bad connection", driver.ErrBadConn, true},
		{"Wrapped bad connection", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"Unexpected EOF", io.ErrUnexpectedEOF, true},
		{"Network error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, true},
		{"Admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"Connection failure class", &pgconn.PgError{Code: "08006"}, true},
		{"Syntax error", &pgconn.PgError{Code: "42601", Message: "syntax error at or near \"CREAT\""}, false},
		{"Deadlock is a migration failure", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, false},
		{"Deadline exceeded", context.DeadlineExceeded, false},
		{"Canceled", context.Canceled, false},
		{"Connection refused message", &mockError{message: "dial tcp: connection refused"}, true},
		{"Case insensitive matching", &mockError{message: "CONNECTION RESET by peer"}, true},
		{"Too many connections", &mockError{message: "FATAL: too many connections for role"}, true},
		{"Non-connection message", &mockError{message: "column does not exist"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func TestContainsIgnoreCase(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		substr   string
		expected bool
	}{
		{"Exact match", "connection refused", "connection refused", true},
		{"Case insensitive match", "CONNECTION REFUSED", "connection refused", true},
		{"Substring match", "error: connection refused by server", "connection refused", true},
		{"No match", "syntax error", "connection refused", false},
		{"Empty substring", "test", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, containsIgnoreCase(tt.s, tt.substr))
		})
	}
}
