package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code is a stable error code. Codes travel over the wire in Error frames,
// so their string values must never change.
type Code string

const (
	// Request errors
	CodeArgumentMissing      Code = "ArgumentMissing"
	CodeProjectNotFound      Code = "ProjectNotFound"
	CodeMalformedProjectFile Code = "MalformedProjectFile"
	CodeUnknownCommand       Code = "UnknownCommand"
	CodeMalformedRequest     Code = "MalformedRequest"

	// Indexing errors, recovered inside the indexer
	CodeLoadFailure       Code = "LoadFailure"
	CodeTransientFileLock Code = "TransientFileLock"

	// Internal errors
	CodeInternalError Code = "InternalError"
)

// Reasons refine a code. Like codes they are stable identifiers, not messages.
const (
	ReasonProjectFilePathRequired  = "ProjectFilePathRequired"
	ReasonProjectNameRequired      = "ProjectNameRequired"
	ReasonSpecifiedProjectNotFound = "SpecifiedProjectNotFound"
	ReasonUnsupportedFormat        = "UnsupportedFormat"
	ReasonNotManagedAssembly       = "NotManagedAssembly"
	ReasonFileLocked               = "FileLocked"
	ReasonUnreadable               = "Unreadable"
	ReasonInvalidArguments         = "InvalidArguments"
)

// Error carries a stable code plus the context needed in logs.
type Error struct {
	Code       Code
	Reason     string
	Operation  string
	Path       string
	Underlying error
	Timestamp  time.Time
}

// New creates a coded error for an operation
func New(code Code, op string, err error) *Error {
	return &Error{
		Code:       code,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithReason attaches a stable reason identifier
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// WithPath attaches the file the error concerns
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s: %s", e.Operation, msg)
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Path != "" {
		msg += " for " + e.Path
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches any *Error with the same code, so errors.Is(err, &Error{Code: X}) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

// CodeOf extracts the outermost code from err. Errors without a code are
// internal faults and must not leak their message to callers.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// ReasonOf extracts the reason of the outermost coded error, if any
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// ArgumentMissing builds the error for an empty required argument
func ArgumentMissing(op, reason string) *Error {
	return New(CodeArgumentMissing, op, nil).WithReason(reason)
}

// ProjectNotFound builds the error for a name that is not registered
func ProjectNotFound(op, name string) *Error {
	return New(CodeProjectNotFound, op, fmt.Errorf("no project named %q", name)).
		WithReason(ReasonSpecifiedProjectNotFound)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// ErrOrNil returns nil when the multi-error holds nothing
func (e *MultiError) ErrOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}
