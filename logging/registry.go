package logging

import "sync"

var (
	// global is the default adapter used when no package-specific adapter is set
	global Adapter = NewNoOpAdapter()
	// packages stores package-specific adapters
	packages sync.Map
	// mu protects the global adapter
	mu sync.RWMutex
)

// SetGlobalAdapter sets the logging adapter used by every package that does
// not have a specific adapter of its own.
func SetGlobalAdapter(adapter Adapter) {
	mu.Lock()
	defer mu.Unlock()
	global = adapter
}

// SetPackageAdapter sets a specific adapter for one package, overriding the
// global adapter for it.
func SetPackageAdapter(pkg string, adapter Adapter) {
	packages.Store(pkg, adapter)
}

// DisablePackage silences logging for a specific package.
func DisablePackage(pkg string) {
	SetPackageAdapter(pkg, NewNoOpAdapter())
}

// EnablePackage removes a package-specific adapter, falling back to the
// global one.
func EnablePackage(pkg string) {
	packages.Delete(pkg)
}

// SetPackageLevel sets the log level for a specific package. When the
// package has no adapter of its own, one is derived from the global adapter.
func SetPackageLevel(pkg string, level Level) {
	if adapter, ok := packages.Load(pkg); ok {
		if a, ok := adapter.(Adapter); ok {
			a.SetLevel(level)
		}
		return
	}

	mu.RLock()
	derived := global.WithPackage(pkg)
	mu.RUnlock()

	derived.SetLevel(level)
	SetPackageAdapter(pkg, derived)
}

// GetPackageLogger returns a logger for a specific package. The returned
// adapter is dynamic: it always resolves to whatever adapter is currently
// registered, so packages can grab their logger in a var declaration before
// the application configures logging.
func GetPackageLogger(pkg string) Adapter {
	return &dynamicAdapter{pkg: pkg}
}

// dynamicAdapter defers the adapter lookup to call time.
type dynamicAdapter struct {
	pkg string
}

func (d *dynamicAdapter) current() Adapter {
	if adapter, ok := packages.Load(d.pkg); ok {
		if a, ok := adapter.(Adapter); ok {
			return a
		}
	}
	mu.RLock()
	defer mu.RUnlock()
	return global.WithPackage(d.pkg)
}

// SetLevel delegates to the currently active adapter for this package.
func (d *dynamicAdapter) SetLevel(level Level) Adapter {
	d.current().SetLevel(level)
	return d
}

// GetLevel returns the level of the currently active adapter.
func (d *dynamicAdapter) GetLevel() Level { return d.current().GetLevel() }

// Trace returns a trace level event from the active adapter.
func (d *dynamicAdapter) Trace() Event { return d.current().Trace() }

// Debug returns a debug level event from the active adapter.
func (d *dynamicAdapter) Debug() Event { return d.current().Debug() }

// Info returns an info level event from the active adapter.
func (d *dynamicAdapter) Info() Event { return d.current().Info() }

// Warn returns a warn level event from the active adapter.
func (d *dynamicAdapter) Warn() Event { return d.current().Warn() }

// Error returns an error level event from the active adapter.
func (d *dynamicAdapter) Error() Event { return d.current().Error() }

// Fatal returns a fatal level event from the active adapter.
func (d *dynamicAdapter) Fatal() Event { return d.current().Fatal() }

// WithPackage returns an adapter scoped to another package.
func (d *dynamicAdapter) WithPackage(pkg string) Adapter {
	return &dynamicAdapter{pkg: pkg}
}

// Enabled reports whether the active adapter emits events.
func (d *dynamicAdapter) Enabled() bool { return d.current().Enabled() }
