package engine

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors. Expected negative outcomes of the
// pipeline (unmapped chip, stale punch, not-ready stage) are typed
// results, not errors; an Error means the operation itself could not
// proceed.
type Code string

const (
	// CodeConfiguration indicates a structural problem: unknown event,
	// missing controls, an event that cannot be activated.
	CodeConfiguration Code = "configuration"

	// CodeAdmission indicates the punch was refused before insertion,
	// for example while ingest is paused or the event is finished.
	CodeAdmission Code = "admission"

	// CodeIntegrity indicates a repository invariant was violated; the
	// surrounding transaction has been rolled back.
	CodeIntegrity Code = "integrity"

	// CodeUpstream indicates a failure talking to an upstream source.
	CodeUpstream Code = "upstream"

	// CodeFatal indicates an unrecoverable internal failure.
	CodeFatal Code = "fatal"
)

// Error is the typed engine error.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// AsError unwraps err to an engine *Error if one is in its chain.
func AsError(err error) (*Error, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsAdmission reports whether err is an admission refusal.
// Uses errors.As to handle wrapped errors.
func IsAdmission(err error) bool {
	ee, ok := AsError(err)
	return ok && ee.Code == CodeAdmission
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	ee, ok := AsError(err)
	return ok && ee.Code == CodeConfiguration
}

// NewAdmissionError creates an admission refusal.
func NewAdmissionError(op, message string) *Error {
	return &Error{Code: CodeAdmission, Op: op, Message: message}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(op, message string) *Error {
	return &Error{Code: CodeConfiguration, Op: op, Message: message}
}
