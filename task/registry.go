package task

import (
	"fmt"
	"sync"
)

// Registry holds task definitions keyed by (namespace, family). It is meant
// to be populated during startup and read-only during builds; lookups are
// safe for concurrent use. Tests construct their own scoped registries.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Definition)}
}

// Register adds a definition. Registering a second definition under the same
// (namespace, family) is an error.
func (r *Registry) Register(def *Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	key := namespaceFamily(def.Namespace, def.Family)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byKey[key]; ok {
		return fmt.Errorf("task: %q already registered (version %s)", key, existing.Version)
	}
	r.byKey[key] = def
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *Registry) MustRegister(def *Definition) *Definition {
	if err := r.Register(def); err != nil {
		panic(err)
	}
	return def
}

// Lookup returns the definition registered for (namespace, family).
func (r *Registry) Lookup(namespace, family string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byKey[namespaceFamily(namespace, family)]
	if !ok {
		return nil, &NotRegisteredError{Namespace: namespace, Family: family}
	}
	return def, nil
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry, populated by user packages
// at init time.
func DefaultRegistry() *Registry { return defaultRegistry }
