// Package errors defines the structured error types returned by the store.
package errors

import (
	"fmt"
)

// ErrorCode defines specific error kinds.
type ErrorCode string

const (
	// CodeSchema is returned when a type is not registered, has a missing or
	// duplicate identifier field, or references an unresolvable type.
	CodeSchema ErrorCode = "SCHEMA"
	// CodeCorruptTable is returned when a backing table exists but is not a
	// well-formed table.
	CodeCorruptTable ErrorCode = "CORRUPT_TABLE"
	// CodeGeneration is returned when an identifier strategy cannot read the
	// state it needs.
	CodeGeneration ErrorCode = "GENERATION"
	// CodeQueryParse is returned when query text is malformed.
	CodeQueryParse ErrorCode = "QUERY_PARSE"
)

// Sentinels usable with errors.Is; matching is by code only.
var (
	ErrSchema       = &Error{code: CodeSchema}
	ErrCorruptTable = &Error{code: CodeCorruptTable}
	ErrGeneration   = &Error{code: CodeGeneration}
	ErrQueryParse   = &Error{code: CodeQueryParse}
)

// Error is a concrete error type with a code and optional details.
type Error struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		code:    code,
		message: message,
		details: make(map[string]any),
	}
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// Predefined error constructors for common cases

// Schema creates a schema error.
func Schema(format string, args ...any) *Error {
	return New(CodeSchema, fmt.Sprintf(format, args...))
}

// CorruptTable creates an error for a table at path that could not be decoded.
func CorruptTable(path string, err error) *Error {
	return New(CodeCorruptTable, fmt.Sprintf("corrupt table %s", path)).WithDetail("path", path).Wrap(err)
}

// Generation creates an identifier generation error for the given type.
func Generation(typeName string, err error) *Error {
	return New(CodeGeneration, fmt.Sprintf("failed to generate identifier for %s", typeName)).WithDetail("type", typeName).Wrap(err)
}

// QueryParse creates a query parse error at byte offset pos.
func QueryParse(pos int, format string, args ...any) *Error {
	return New(CodeQueryParse, fmt.Sprintf(format, args...)).WithDetail("position", pos)
}
