package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ZerologEvent wraps a zerolog.Event to implement the Event interface.
type ZerologEvent struct {
	event *zerolog.Event
}

// Field adds a single structured field to the event
func (e *ZerologEvent) Field(key string, value interface{}) Event {
	e.event = e.event.Interface(key, value)
	return e
}

// Err adds an error to the event
func (e *ZerologEvent) Err(err error) Event {
	e.event = e.event.Err(err)
	return e
}

// Msg logs the message
func (e *ZerologEvent) Msg(msg string) {
	e.event.Msg(msg)
}

// Msgf logs the formatted message
func (e *ZerologEvent) Msgf(format string, v ...interface{}) {
	e.event.Msgf(format, v...)
}

// ZerologAdapter implements Adapter using zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
	level  Level
}

// NewZerologAdapter creates a zerolog adapter writing to stderr.
func NewZerologAdapter() Adapter {
	return NewZerologAdapterWithWriter(os.Stderr)
}

// NewZerologAdapterWithWriter creates a zerolog adapter writing to w. Pass a
// FileWriter (or an io.MultiWriter combining one with a console writer) to
// persist logs.
func NewZerologAdapterWithWriter(w io.Writer) Adapter {
	return &ZerologAdapter{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		level:  InfoLevel,
	}
}

// NewZerologAdapterWithLogger creates a zerolog adapter with a custom logger
func NewZerologAdapterWithLogger(logger zerolog.Logger) Adapter {
	return &ZerologAdapter{
		logger: logger,
		level:  InfoLevel,
	}
}

// SetLevel sets the log level
func (z *ZerologAdapter) SetLevel(level Level) Adapter {
	z.level = level
	z.logger = z.logger.Level(convertLevel(level))
	return z
}

// GetLevel returns the current log level
func (z *ZerologAdapter) GetLevel() Level {
	return z.level
}

func convertLevel(level Level) zerolog.Level {
	switch level {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	case DisabledLevel:
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Trace returns a trace level event
func (z *ZerologAdapter) Trace() Event {
	return &ZerologEvent{event: z.logger.Trace()}
}

// Debug returns a debug level event
func (z *ZerologAdapter) Debug() Event {
	return &ZerologEvent{event: z.logger.Debug()}
}

// Info returns an info level event
func (z *ZerologAdapter) Info() Event {
	return &ZerologEvent{event: z.logger.Info()}
}

// Warn returns a warning level event
func (z *ZerologAdapter) Warn() Event {
	return &ZerologEvent{event: z.logger.Warn()}
}

// Error returns an error level event
func (z *ZerologAdapter) Error() Event {
	return &ZerologEvent{event: z.logger.Error()}
}

// Fatal returns a fatal level event
func (z *ZerologAdapter) Fatal() Event {
	return &ZerologEvent{event: z.logger.Fatal()}
}

// WithPackage returns a new adapter with a package name field
func (z *ZerologAdapter) WithPackage(pkg string) Adapter {
	return &ZerologAdapter{
		logger: z.logger.With().Str("package", pkg).Logger(),
		level:  z.level,
	}
}

// Enabled reports whether the adapter emits events
func (z *ZerologAdapter) Enabled() bool {
	return z.level != DisabledLevel
}
