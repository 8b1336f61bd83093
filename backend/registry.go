package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/logger"
)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)

	// Priority order for OpenDefault (first that opens wins).
	priority = []string{NameHAL, NameSoft}
)

// Register makes a backend available under name.
// It panics if factory is nil or name is already registered.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("backend: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("backend: Register called twice for " + name)
	}
	factories[name] = factory
}

// Unregister removes a backend. Used by tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens the named backend.
func Open(name string, opts Options) (gpucore.Device, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}

	dev, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("backend %s: open: %w", name, err)
	}

	info := dev.Info()
	logger.Get().Info("backend: device opened",
		"backend", name,
		"adapter", info.Name,
		"api", info.Backend.String(),
		"debug", opts.Debug)
	return dev, nil
}

// OpenDefault opens the first backend in priority order that succeeds,
// falling back to any other registered backend.
func OpenDefault(opts Options) (gpucore.Device, string, error) {
	names := Available()
	if len(names) == 0 {
		return nil, "", ErrNoBackends
	}

	ordered := make([]string, 0, len(names))
	for _, p := range priority {
		if IsRegistered(p) {
			ordered = append(ordered, p)
		}
	}
	for _, n := range names {
		if n != NameHAL && n != NameSoft {
			ordered = append(ordered, n)
		}
	}

	var lastErr error
	for _, name := range ordered {
		dev, err := Open(name, opts)
		if err == nil {
			return dev, name, nil
		}
		logger.Get().Warn("backend: open failed, trying next", "backend", name, "err", err)
		lastErr = err
	}
	return nil, "", lastErr
}
