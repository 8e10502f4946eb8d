// Package apperror provides the error type used throughout go-mail. It
// enhances standard Go errors with a lightweight trace and support for
// attached nested errors and diagnostic details.
//
// Protocol code benefits from both: a failed handshake step wraps the raw
// server reply as a detail, and the trace shows which step rejected it.
//
// Usage:
//
//	err := apperror.NewError("unexpected SMTP status")
//	err = err.AddDetail("response", raw)
//
//	// Wrap an existing error to capture a new trace point
//	return apperror.Wrap(err)
//
// Traces are only rendered when flag.Debug is set.
package apperror

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/tasknest/go-mail/flag"
)

// Error represents an application error with a trace, optional nested
// errors and optional diagnostic details. It implements the error interface.
type Error struct {
	Message string
	Trace   []string
	Errors  []error
	Details map[string]interface{}
}

// NewError creates a new Error with the given message.
// If the error is already of type Error use Wrap instead.
func NewError(msg string) Error {
	e := Error{Message: msg}
	e.Trace = trace(e)
	return e
}

// NewErrorf creates a new Error with the formatted message.
func NewErrorf(format string, a ...interface{}) Error {
	e := Error{Message: fmt.Sprintf(format, a...)}
	e.Trace = trace(e)
	return e
}

// Wrap wraps an error and adds a trace point to it. Errors that are already
// of type Error keep their history; anything else is converted.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(Error); ok {
		e.Trace = trace(e)
		return e
	}
	e := Error{Message: err.Error(), Errors: []error{err}}
	e.Trace = trace(e)
	return e
}

// AddError attaches a nested error for context.
func (e Error) AddError(err error) Error {
	e.Errors = append(e.Errors, err)
	return e
}

// AddDetail attaches a key-value pair to the error, e.g. the raw server
// response that caused a protocol failure.
func (e Error) AddDetail(key string, value interface{}) Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetDetail retrieves a detail value by key, or nil when absent.
func (e Error) GetDetail(key string) interface{} {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// Is reports whether target matches this error by message. It enables
// errors.Is against sentinel Error values.
func (e Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(Error); ok {
		return e.Message == t.Message
	}
	return e.Message == target.Error()
}

// Unwrap returns the first nested error, letting the standard library
// traverse the chain for errors.Is and errors.As.
func (e Error) Unwrap() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Error implements the error interface. When flag.Debug is set the trace and
// nested errors are included.
func (e Error) Error() string {
	var sb strings.Builder

	if flag.Debug && len(e.Trace) > 0 {
		for i := len(e.Trace) - 1; i >= 0; i-- {
			sb.WriteString(e.Trace[i])
			sb.WriteString(" -> ")
		}
	}

	sb.WriteString(e.Message)

	nested := ""
	for _, n := range e.Errors {
		if n == nil || n.Error() == e.Message {
			continue
		}
		if nested != "" {
			nested += " => "
		}
		nested += n.Error()
	}
	if nested != "" {
		sb.WriteString(" [")
		sb.WriteString(nested)
		sb.WriteString("]")
	}

	if len(e.Details) > 0 {
		sb.WriteString(" (")
		first := true
		for key, value := range e.Details {
			if !first {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", key, value)
			first = false
		}
		sb.WriteString(")")
	}

	return sb.String()
}

// Catch runs f and reports a non-nil result through the package logger hook.
// It is meant for deferred cleanup calls whose errors should not be lost:
//
//	defer apperror.Catch(conn.Close, "failed to close connection")
func Catch(f func() error, msg string) {
	err := f()
	if err == nil {
		return
	}
	if Handler != nil {
		Handler(err, msg)
	}
}

// Handler receives errors observed by Catch. The default keeps them silent;
// applications usually point this at their logger during startup.
var Handler func(err error, msg string)

func trace(e Error) []string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return e.Trace
	}
	return append(e.Trace, fmt.Sprintf("%s:%d", file, line))
}
