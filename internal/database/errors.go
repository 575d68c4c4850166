package database

import (
	"errors"
	"fmt"
)

// Common database errors that can be checked using errors.Is()
var (
	// ErrNotConnected is returned when no healthy connection is available.
	ErrNotConnected = errors.New("database not connected")

	// ErrQueryFailed is returned when the server reports a non-OK statement status.
	ErrQueryFailed = errors.New("query execution failed")

	// ErrInvalidIdentifier is returned for table or field names that can't be
	// interpolated into SurrealQL safely.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// DBError represents a database error with additional context.
type DBError struct {
	// The underlying error that was returned by the database driver.
	err error

	// Additional context about where the error occurred.
	context string

	// The query that was being executed when the error occurred.
	query string

	// Optional parameters that were used with the query.
	params map[string]any
}

// NewDBError creates a new DBError with the given error and context.
func NewDBError(err error, context string) *DBError {
	return &DBError{
		err:     err,
		context: context,
	}
}

// WithQuery adds query information to the error.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

// WithParams adds query parameters to the error.
func (e *DBError) WithParams(params map[string]any) *DBError {
	e.params = params
	return e
}

// Error returns the error message.
func (e *DBError) Error() string {
	msg := e.context
	if e.query != "" {
		msg = fmt.Sprintf("%s\nQuery: %s", msg, e.query)
	}
	if len(e.params) > 0 {
		msg = fmt.Sprintf("%s\nParams: %+v", msg, e.params)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DBError) Unwrap() error {
	return e.err
}
