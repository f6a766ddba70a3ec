package utils

import (
	"errors"
	"fmt"
	"strings"
)

// Custom error types
var (
	// ErrValidation is returned when input validation fails
	ErrValidation = errors.New("validation error")

	// ErrCycle is returned when migration dependencies form a cycle
	ErrCycle = errors.New("dependency cycle")

	// ErrUnknownDependency is returned when a migration depends on a version nobody declared
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateMigration is returned when two migrations share a version
	ErrDuplicateMigration = errors.New("duplicate migration")

	// ErrMigrationFailed is returned when a migration's SQL fails and is rolled back
	ErrMigrationFailed = errors.New("migration failed")

	// ErrAlreadyApplied is returned when another runner recorded the migration first
	ErrAlreadyApplied = errors.New("migration already applied")

	// ErrDrift is returned when recorded state and the live schema disagree
	ErrDrift = errors.New("schema drift")

	// ErrConnection is returned when the database cannot be reached
	ErrConnection = errors.New("connection error")
)

// ValidationError represents an error that occurs during input validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CycleError reports a dependency cycle. Path starts and ends with the same version.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// UnknownDependencyError reports a depends_on entry that matches no known migration
type UnknownDependencyError struct {
	Migration  string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("migration '%s' depends on unknown migration '%s'", e.Migration, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error {
	return ErrUnknownDependency
}

// DuplicateMigrationError reports two migrations declared with the same version
type DuplicateMigrationError struct {
	Version string
}

func (e *DuplicateMigrationError) Error() string {
	return fmt.Sprintf("migration '%s' is declared more than once", e.Version)
}

func (e *DuplicateMigrationError) Unwrap() error {
	return ErrDuplicateMigration
}

// MigrationFailedError carries the version and the database error of a rolled back migration
type MigrationFailedError struct {
	Version string
	Cause   error
}

func (e *MigrationFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("migration '%s' failed: %v", e.Version, e.Cause)
	}
	return fmt.Sprintf("migration '%s' failed", e.Version)
}

func (e *MigrationFailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrMigrationFailed}
	}
	return []error{ErrMigrationFailed, e.Cause}
}

// DriftError reports that a recorded migration no longer matches the database or its source
type DriftError struct {
	Version string
	Reason  string
	Details []string
}

func (e *DriftError) Error() string {
	msg := fmt.Sprintf("migration '%s' drifted: %s", e.Version, e.Reason)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

func (e *DriftError) Unwrap() error {
	return ErrDrift
}

// ConnectionError represents a transport failure talking to the database
type ConnectionError struct {
	Operation string
	Cause     error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("connection error during %s", e.Operation)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConnection}
	}
	return []error{ErrConnection, e.Cause}
}

// Error wrapping functions

// WrapValidationError wraps an error as a validation error
func WrapValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// WrapMigrationFailed wraps a database error for the given migration version
func WrapMigrationFailed(version string, cause error) error {
	return &MigrationFailedError{
		Version: version,
		Cause:   cause,
	}
}

// WrapConnectionError wraps an error as a connection error
func WrapConnectionError(operation string, cause error) error {
	return &ConnectionError{
		Operation: operation,
		Cause:     cause,
	}
}

// Error checking functions

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsCycleError checks if an error is a dependency cycle error
func IsCycleError(err error) bool {
	return errors.Is(err, ErrCycle)
}

// IsUnknownDependencyError checks if an error is an unknown dependency error
func IsUnknownDependencyError(err error) bool {
	return errors.Is(err, ErrUnknownDependency)
}

// IsMigrationFailed checks if an error is a migration failure
func IsMigrationFailed(err error) bool {
	return errors.Is(err, ErrMigrationFailed)
}

// IsAlreadyApplied checks if an error means the migration was recorded by someone else
func IsAlreadyApplied(err error) bool {
	return errors.Is(err, ErrAlreadyApplied)
}

// IsDriftError checks if an error is a drift error
func IsDriftError(err error) bool {
	return errors.Is(err, ErrDrift)
}

// IsConnectionError checks if an error is a connection error
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// Helper function to create a validation error for required fields
func RequiredFieldError(field string) error {
	return WrapValidationError(field, "field is required")
}

// Helper function to create a validation error for invalid field values
func InvalidFieldError(field, reason string) error {
	return WrapValidationError(field, reason)
}
