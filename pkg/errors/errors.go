package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNodeReference indicates that a connection names a node outside the node set
	ErrUnknownNodeReference = errors.New("unknown node reference")

	// ErrUnresolvedNode indicates that a node could not be resolved to a task definition
	ErrUnresolvedNode = errors.New("unresolved node")

	// ErrCycle indicates that the control graph contains a cycle
	ErrCycle = errors.New("cycle detected in control graph")

	// ErrInvalidDefinition indicates that a graph definition document is malformed
	ErrInvalidDefinition = errors.New("invalid graph definition")

	// ErrRunNotActive indicates that a control was issued to a finished run
	ErrRunNotActive = errors.New("run is not active")

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrPublishFailed indicates that an event could not be published
	ErrPublishFailed = errors.New("publish failed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrAborted indicates that an operation was stopped by an abort request
	ErrAborted = errors.New("aborted")
)

// Error codes used with Error
const (
	CodeValidation = "VALIDATION"
	CodeExecution  = "EXECUTION"
	CodeIsolation  = "ISOLATION"
	CodeStorage    = "STORAGE"
	CodeMessaging  = "MESSAGING"
)

// Error represents a structured error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsValidation reports whether err is one of the errors that prevent a run from starting
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownNodeReference) ||
		errors.Is(err, ErrUnresolvedNode) ||
		errors.Is(err, ErrCycle) ||
		errors.Is(err, ErrInvalidDefinition)
}
