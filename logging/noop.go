package logging

// NoOpEvent implements Event and does nothing.
type NoOpEvent struct{}

// Field does nothing and returns itself for chaining
func (e *NoOpEvent) Field(_ string, _ interface{}) Event { return e }

// Err does nothing and returns itself for chaining
func (e *NoOpEvent) Err(_ error) Event { return e }

// Msg does nothing
func (e *NoOpEvent) Msg(_ string) {}

// Msgf does nothing
func (e *NoOpEvent) Msgf(_ string, _ ...interface{}) {}

// NoOpAdapter implements Adapter and discards all events. It is the default
// adapter so the library stays silent until the application opts in.
type NoOpAdapter struct{}

// NewNoOpAdapter creates a new no-op adapter
func NewNoOpAdapter() Adapter {
	return &NoOpAdapter{}
}

// SetLevel is a no-op
func (n *NoOpAdapter) SetLevel(_ Level) Adapter { return n }

// GetLevel always reports DisabledLevel
func (n *NoOpAdapter) GetLevel() Level { return DisabledLevel }

// Trace returns a no-op event
func (n *NoOpAdapter) Trace() Event { return &NoOpEvent{} }

// Debug returns a no-op event
func (n *NoOpAdapter) Debug() Event { return &NoOpEvent{} }

// Info returns a no-op event
func (n *NoOpAdapter) Info() Event { return &NoOpEvent{} }

// Warn returns a no-op event
func (n *NoOpAdapter) Warn() Event { return &NoOpEvent{} }

// Error returns a no-op event
func (n *NoOpAdapter) Error() Event { return &NoOpEvent{} }

// Fatal returns a no-op event
func (n *NoOpAdapter) Fatal() Event { return &NoOpEvent{} }

// WithPackage returns the same no-op adapter
func (n *NoOpAdapter) WithPackage(_ string) Adapter { return n }

// Enabled reports false
func (n *NoOpAdapter) Enabled() bool { return false }
