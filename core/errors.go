package core

import (
	"errors"
	"fmt"
)

// ErrorType categorizes pipeline errors.
type ErrorType string

const (
	// ErrorTypeResolution: the registry was unreachable or the record is absent.
	ErrorTypeResolution ErrorType = "resolution"
	// ErrorTypeUnsupportedStore: the record names a db type without a driver.
	ErrorTypeUnsupportedStore ErrorType = "unsupported_store"
	// ErrorTypeConnection: the driver failed to connect.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeExecution: executing SQL through a DataAccess failed.
	ErrorTypeExecution ErrorType = "execution"
	// ErrorTypePipeline: runtime construction, registration, publish, idle-drain or teardown failed.
	ErrorTypePipeline ErrorType = "pipeline"
	// ErrorTypeConfiguration: the data store is not configured.
	ErrorTypeConfiguration ErrorType = "configuration"
)

var (
	// ErrResolution matches any resolution error.
	ErrResolution = &Error{Type: ErrorTypeResolution}
	// ErrUnsupportedStore matches any unsupported store error.
	ErrUnsupportedStore = &Error{Type: ErrorTypeUnsupportedStore}
	// ErrConnection matches any connection error.
	ErrConnection = &Error{Type: ErrorTypeConnection}
	// ErrExecution matches any execution error.
	ErrExecution = &Error{Type: ErrorTypeExecution}
	// ErrPipeline matches any pipeline error.
	ErrPipeline = &Error{Type: ErrorTypePipeline}

	// ErrNotConfigured is the cause carried by every disabled handle failure.
	ErrNotConfigured = errors.New("data store not configured")
	// ErrNotFound is returned by registries for unknown connection ids.
	ErrNotFound = errors.New("connection not found")
)

// Error is a typed pipeline error.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Cause   error
}

// NewError creates a typed error.
func NewError(t ErrorType, op, message string, cause error) *Error {
	return &Error{Type: t, Op: op, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if msg == "" {
		return string(e.Type) + " error"
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same Type, so the package sentinels work
// with errors.Is regardless of Op, Message and Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Op == "" && t.Message == "" && t.Cause == nil
}

// IsType reports whether err (or any error it wraps) is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}
