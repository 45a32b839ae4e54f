// Package errors provides the structured error system used across the framework,
// with error codes, categories, and cause chains.
package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code identifies a specific failure kind.
type Code string

const (
	// Configuration errors, detected before any hardware side effect.
	CodeMalformedConfig     Code = "MALFORMED_CONFIG"
	CodeDuplicateName       Code = "DUPLICATE_NAME"
	CodeUnresolvedReference Code = "UNRESOLVED_REFERENCE"
	CodeUnknownType         Code = "UNKNOWN_TYPE"

	// Initialization errors, detected while opening components.
	CodeInitFailure Code = "INIT_FAILURE"

	// I/O errors, local to a single operation.
	CodeWriteError Code = "WRITE_ERROR"
	CodeReadError  Code = "READ_ERROR"
	CodeTimeout    Code = "TIMEOUT"

	// Driver errors.
	CodeDriverOperation Code = "DRIVER_OPERATION"
	CodeNotSupported    Code = "NOT_SUPPORTED"

	// Lifecycle and lookup errors.
	CodeNotFound     Code = "NOT_FOUND"
	CodeDeviceClosed Code = "DEVICE_CLOSED"
	CodeInvalidState Code = "INVALID_STATE"

	CodeInternal Code = "INTERNAL"
)

// Category groups codes into the broad error families of the framework.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryInit     Category = "init"
	CategoryIO       Category = "io"
	CategoryDriver   Category = "driver"
	CategoryState    Category = "state"
	CategoryInternal Category = "internal"
)

// Error is the structured error carried by every failure in the framework.
type Error struct {
	Code     Code                   `json:"code"`
	Category Category               `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"` // not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable hints that the failing operation may be reissued by the caller.
	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code equality so callers can compare against New(code, "").
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *Error) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// New creates an error with category and retryable hint derived from the code.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Category:  CategoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error that preserves cause for Unwrap chains.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code Code, cause error, format string, args ...interface{}) *Error {
	return Wrap(code, fmt.Sprintf(format, args...), cause)
}

// CategoryOf maps a code onto its error family.
func CategoryOf(code Code) Category {
	switch code {
	case CodeMalformedConfig, CodeDuplicateName, CodeUnresolvedReference, CodeUnknownType:
		return CategoryConfig
	case CodeInitFailure:
		return CategoryInit
	case CodeWriteError, CodeReadError, CodeTimeout:
		return CategoryIO
	case CodeDriverOperation, CodeNotSupported:
		return CategoryDriver
	case CodeNotFound, CodeDeviceClosed, CodeInvalidState:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// I/O failures are local to the failing operation and may be reissued.
func retryableByDefault(code Code) bool {
	switch code {
	case CodeWriteError, CodeReadError, CodeTimeout:
		return true
	}
	return false
}

// WithComponent sets the component identity on the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation name on the error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithDetail attaches a named detail value.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace.
func (e *Error) WithStack() *Error {
	e.Stack = captureStack(1)
	return e
}

// CodeOf returns the code of err when it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}

// IsCode reports whether the first structured error in err's chain carries
// the given code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsTimeout reports whether err is a read timeout.
func IsTimeout(err error) bool {
	return IsCode(err, CodeTimeout)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

func captureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}
