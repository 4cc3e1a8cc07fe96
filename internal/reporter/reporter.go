// Package reporter delivers finished run reports to configured sinks:
// console summaries, JSON files and webhooks.
package reporter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// Type identifies a reporter implementation.
type Type string

const (
	TypeConsole Type = "console"
	TypeJSON    Type = "json"
	TypeWebhook Type = "webhook"
)

// Reporter receives the report of a completed run. Implementations are
// created by a Factory, initialized once, fed any number of reports and
// closed when the producer is done.
type Reporter interface {
	// Name returns the reporter name for error messages.
	Name() string
	// Init prepares the reporter. It is called exactly once before Report.
	Init(ctx context.Context, config map[string]any) error
	// Report delivers one run report.
	Report(ctx context.Context, report *types.RunReport) error
	// Flush forces buffered output out.
	Flush(ctx context.Context) error
	// Close releases resources. The reporter is unusable afterwards.
	Close(ctx context.Context) error
}

// Factory creates a reporter from its configuration section.
type Factory func(config map[string]any) (Reporter, error)

// Registry maps reporter types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Type]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Type]Factory)}
}

// Register adds a factory for the given type. Registering a type twice is
// an error.
func (r *Registry) Register(t Type, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for reporter type %s", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[t]; exists {
		return fmt.Errorf("reporter type already registered: %s", t)
	}
	r.factories[t] = factory
	return nil
}

// Create builds a reporter of the given type.
func (r *Registry) Create(t Type, config map[string]any) (Reporter, error) {
	r.mu.RLock()
	factory, ok := r.factories[t]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown reporter type: %s (known: %s)", t, joinTypes(r.Types()))
	}
	return factory(config)
}

// Has reports whether a factory is registered for the given type.
func (r *Registry) Has(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Type, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinTypes(ts []Type) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// NewDefaultRegistry creates a registry with the built-in reporters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TypeConsole, NewConsoleFactory())
	_ = r.Register(TypeJSON, NewJSONFactory())
	_ = r.Register(TypeWebhook, NewWebhookFactory())
	return r
}

// OutputSpec is a parsed --out flag value.
type OutputSpec struct {
	Type   Type
	Config map[string]any
}

// ParseOutputSpec parses an output flag of the form "console", "json=PATH"
// or "webhook=URL".
func ParseOutputSpec(spec string) (*OutputSpec, error) {
	name, value, hasValue := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	switch Type(name) {
	case TypeConsole:
		if hasValue {
			return nil, fmt.Errorf("invalid output %q: console takes no argument", spec)
		}
		return &OutputSpec{Type: TypeConsole, Config: map[string]any{}}, nil
	case TypeJSON:
		if value == "" {
			return nil, fmt.Errorf("invalid output %q: expected json=PATH", spec)
		}
		return &OutputSpec{Type: TypeJSON, Config: map[string]any{"path": value}}, nil
	case TypeWebhook:
		if value == "" {
			return nil, fmt.Errorf("invalid output %q: expected webhook=URL", spec)
		}
		return &OutputSpec{Type: TypeWebhook, Config: map[string]any{"url": value}}, nil
	default:
		return nil, fmt.Errorf("unknown output type %q (known: console, json, webhook)", name)
	}
}

// Manager fans one report out to a set of reporters.
type Manager struct {
	registry  *Registry
	mu        sync.Mutex
	reporters []Reporter
}

// NewManager creates a manager using the given registry, or the default
// registry when nil.
func NewManager(registry *Registry) *Manager {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	return &Manager{registry: registry}
}

// Add appends an already constructed reporter.
func (m *Manager) Add(r Reporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporters = append(m.reporters, r)
}

// AddSpec creates, initializes and adds a reporter from a parsed output
// spec.
func (m *Manager) AddSpec(ctx context.Context, spec *OutputSpec) error {
	r, err := m.registry.Create(spec.Type, spec.Config)
	if err != nil {
		return err
	}
	if err := r.Init(ctx, spec.Config); err != nil {
		return fmt.Errorf("failed to initialize %s reporter: %w", r.Name(), err)
	}
	m.Add(r)
	return nil
}

// Count returns the number of attached reporters.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reporters)
}

// Report delivers the report to every reporter, collecting errors.
func (m *Manager) Report(ctx context.Context, report *types.RunReport) error {
	m.mu.Lock()
	reporters := make([]Reporter, len(m.reporters))
	copy(reporters, m.reporters)
	m.mu.Unlock()

	var errs []string
	for _, r := range reporters {
		if err := r.Report(ctx, report); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("report errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Close flushes and closes every reporter, collecting errors.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	reporters := m.reporters
	m.reporters = nil
	m.mu.Unlock()

	var errs []string
	for _, r := range reporters {
		if err := r.Flush(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.Name(), err))
		}
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
