// Package errors provides structured error handling for tabular.
//
// Every failure surfaced by a table backend, the index manager or the
// transfer engine is an *Error carrying one of the kinds below, so callers
// can branch on IsType instead of matching message text. Details hold the
// context needed to decide on resumption: the table identifier, the row
// range and the column involved.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeOutOfRange reports row-range arguments outside [0, row_count]
	ErrorTypeOutOfRange ErrorType = "out_of_range"
	// ErrorTypeInvalidPredicate reports an unknown column or a malformed expression
	ErrorTypeInvalidPredicate ErrorType = "invalid_predicate"
	// ErrorTypeReadOnly reports an append on a table opened without write intent
	ErrorTypeReadOnly ErrorType = "read_only"
	// ErrorTypeCapacityExceeded reports an append beyond a fixed maximum row count
	ErrorTypeCapacityExceeded ErrorType = "capacity_exceeded"
	// ErrorTypeNotIndexed reports a sorted read or lookup without a usable index
	ErrorTypeNotIndexed ErrorType = "not_indexed"
	// ErrorTypeAlreadyIndexed reports a non-forced rebuild of an existing index
	ErrorTypeAlreadyIndexed ErrorType = "already_indexed"
	// ErrorTypeSchemaMismatch reports a batch incompatible with a table schema
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeClosed reports an operation on a closed table
	ErrorTypeClosed ErrorType = "closed"
	// ErrorTypeBackendIO passes through a storage engine failure
	ErrorTypeBackendIO ErrorType = "backend_io"

	// ErrorTypeValidation represents invalid arguments or options
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeCapability represents an operation a backend does not support
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeCanceled represents a transfer stopped at a batch boundary
	ErrorTypeCanceled ErrorType = "canceled"
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// Detail keys shared by every package.
const (
	DetailTable    = "table"
	DetailStart    = "start"
	DetailStop     = "stop"
	DetailStep     = "step"
	DetailColumn   = "column"
	DetailRows     = "rows"
	DetailCapacity = "capacity"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Details are rendered in key order
// so messages are stable.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteByte(']')
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithTable records the table identifier.
func (e *Error) WithTable(name string) *Error {
	return e.WithDetail(DetailTable, name)
}

// WithRange records the row range of the failed operation.
func (e *Error) WithRange(start, stop, step int64) *Error {
	return e.WithDetail(DetailStart, start).WithDetail(DetailStop, stop).WithDetail(DetailStep, step)
}

// WithColumn records the column involved.
func (e *Error) WithColumn(column string) *Error {
	return e.WithDetail(DetailColumn, column)
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// BackendIO wraps a storage engine failure. An error that is already typed
// keeps its kind so a closed or read-only condition is not masked.
func BackendIO(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return Wrap(err, existingErr.Type, message)
	}
	return Wrap(err, ErrorTypeBackendIO, message)
}

// IsType checks if the outermost typed error in the chain has the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// GetType returns the type of the outermost typed error, or ErrorTypeInternal
// for plain errors.
func GetType(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// IsRetryable reports whether the error is retryable. Nothing at this layer
// is known to be transient; retries belong to the calling orchestration.
func IsRetryable(err error) bool {
	return false
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
