// Package logging provides the structured logging layer used by the go-mail
// packages. Logging is adapter-based: the protocol engines log through a
// package-level adapter that defaults to a no-op and can be switched to the
// zerolog backend (or any custom Adapter) by the embedding application.
//
// Example:
//
//	logging.SetGlobalAdapter(logging.NewZerologAdapter())
//	logging.SetPackageLevel("imap", logging.TraceLevel)
package logging

// Level represents a log severity level, ordered from most verbose
// (TraceLevel) to disabled.
type Level int

// Severity levels supported by all adapters.
const (
	TraceLevel    Level = -1
	DebugLevel    Level = 0
	InfoLevel     Level = 1
	WarnLevel     Level = 2
	ErrorLevel    Level = 3
	FatalLevel    Level = 4
	DisabledLevel Level = 5
)

// String returns the string representation of the log level
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	case DisabledLevel:
		return "disabled"
	default:
		return "unknown"
	}
}

// Adapter is the interface logging backends implement.
type Adapter interface {
	SetLevel(level Level) Adapter
	GetLevel() Level

	Trace() Event
	Debug() Event
	Info() Event
	Warn() Event
	Error() Event
	Fatal() Event

	// WithPackage returns an adapter scoped to a package name.
	WithPackage(pkg string) Adapter

	// Enabled reports whether the adapter emits anything at all. Callers can
	// use it to skip expensive message construction.
	Enabled() bool
}

// Event represents a single log event with a fluent interface.
type Event interface {
	Field(key string, value interface{}) Event
	Err(err error) Event
	Msg(msg string)
	Msgf(format string, v ...interface{})
}
