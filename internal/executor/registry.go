package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry manages executor registration and lookup.
type Registry struct {
	executors map[string]Executor
	mu        sync.RWMutex
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register registers an executor under its type. Registering a type twice
// is an error.
func (r *Registry) Register(executor Executor) error {
	if executor == nil {
		return fmt.Errorf("cannot register nil executor")
	}

	execType := executor.Type()
	if execType == "" {
		return fmt.Errorf("executor type must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[execType]; exists {
		return fmt.Errorf("executor type already registered: %s", execType)
	}

	r.executors[execType] = executor
	return nil
}

// MustRegister registers an executor and panics on error.
func (r *Registry) MustRegister(executor Executor) {
	if err := r.Register(executor); err != nil {
		panic(err)
	}
}

// Unregister removes the executor for the given type.
func (r *Registry) Unregister(execType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, execType)
}

// Get returns the executor for the given type, nil when none is registered.
func (r *Registry) Get(execType string) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[execType]
}

// GetOrError returns the executor for the given type or an error.
func (r *Registry) GetOrError(execType string) (Executor, error) {
	executor := r.Get(execType)
	if executor == nil {
		return nil, NewExecutorNotFoundError(execType)
	}
	return executor, nil
}

// Has reports whether an executor is registered for the given type.
func (r *Registry) Has(execType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.executors[execType]
	return exists
}

// Types returns the registered executor types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// InitAll initializes every registered executor with its configuration
// section, keyed by executor type.
func (r *Registry) InitAll(ctx context.Context, configs map[string]map[string]any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for execType, executor := range r.executors {
		config := configs[execType]
		if config == nil {
			config = make(map[string]any)
		}
		if err := executor.Init(ctx, config); err != nil {
			return fmt.Errorf("failed to initialize executor %s: %w", execType, err)
		}
	}
	return nil
}

// CleanupAll cleans up every registered executor, returning the last error.
func (r *Registry) CleanupAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lastErr error
	for execType, executor := range r.executors {
		if err := executor.Cleanup(ctx); err != nil {
			lastErr = fmt.Errorf("failed to clean up executor %s: %w", execType, err)
		}
	}
	return lastErr
}

// RegisterAlias points an alias type at an already registered executor.
func (r *Registry) RegisterAlias(aliasType, targetType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target, exists := r.executors[targetType]; exists {
		r.executors[aliasType] = target
	}
}

// DefaultRegistry is the global default executor registry.
var DefaultRegistry = NewRegistry()

// Register registers an executor in the default registry.
func Register(executor Executor) error {
	return DefaultRegistry.Register(executor)
}

// MustRegister registers an executor in the default registry, panicking on
// error.
func MustRegister(executor Executor) {
	DefaultRegistry.MustRegister(executor)
}

// RegisterAlias creates an alias in the default registry.
func RegisterAlias(aliasType, targetType string) {
	DefaultRegistry.RegisterAlias(aliasType, targetType)
}

// Get returns an executor from the default registry.
func Get(execType string) Executor {
	return DefaultRegistry.Get(execType)
}

// GetOrError returns an executor from the default registry or an error.
func GetOrError(execType string) (Executor, error) {
	return DefaultRegistry.GetOrError(execType)
}
