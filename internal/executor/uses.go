package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// UsesExecutorType is the type identifier of the action executor.
const UsesExecutorType = "uses"

// Action is one built-in step implementation addressed by a uses:
// reference.
type Action interface {
	// Name is the reference the action registers under, such as
	// "checkout" or "cache/restore".
	Name() string

	// Run performs the action. Returning an error fails the step.
	Run(ctx context.Context, sc *StepContext, in *ActionInputs, result *types.StepResult) error
}

// ActionInputs carries the resolved configuration of one uses step.
type ActionInputs struct {
	// Ref is the uses: reference as written in the workflow.
	Ref string

	// With holds the step's with: values after expression resolution.
	With map[string]string
}

// Get returns a with value, or the default when absent or empty.
func (in *ActionInputs) Get(name, def string) string {
	if v, ok := in.With[name]; ok && v != "" {
		return v
	}
	return def
}

// Bool returns a with value parsed as a boolean, or the default when absent
// or unparsable.
func (in *ActionInputs) Bool(name string, def bool) bool {
	v, ok := in.With[name]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// List splits a with value on newlines and commas, dropping empty entries.
func (in *ActionInputs) List(name string) []string {
	v, ok := in.With[name]
	if !ok {
		return nil
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == '\n' || r == ','
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ActionRegistry manages the built-in actions by name.
type ActionRegistry struct {
	actions map[string]Action
	mu      sync.RWMutex
}

// NewActionRegistry creates an empty action registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]Action),
	}
}

// Register registers an action under its name.
func (r *ActionRegistry) Register(action Action) error {
	if action == nil {
		return fmt.Errorf("cannot register nil action")
	}
	name := action.Name()
	if name == "" {
		return fmt.Errorf("action name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action already registered: %s", name)
	}
	r.actions[name] = action
	return nil
}

// MustRegister registers an action and panics on error.
func (r *ActionRegistry) MustRegister(action Action) {
	if err := r.Register(action); err != nil {
		panic(err)
	}
}

// Get returns the action registered under name.
func (r *ActionRegistry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, exists := r.actions[name]
	return action, exists
}

// Has reports whether an action is registered under name.
func (r *ActionRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.actions[name]
	return exists
}

// Names returns the registered action names, sorted.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultActions is the global registry the built-in actions register into.
var DefaultActions = NewActionRegistry()

// RegisterAction registers an action in the default registry.
func RegisterAction(action Action) error {
	return DefaultActions.Register(action)
}

// MustRegisterAction registers an action in the default registry, panicking
// on error.
func MustRegisterAction(action Action) {
	DefaultActions.MustRegister(action)
}

// UsesExecutor dispatches uses: steps to built-in actions. References keep
// the marketplace syntax: an owner/ prefix and an @ref suffix are accepted
// and ignored, so actions/checkout@v4 resolves to the checkout action.
type UsesExecutor struct {
	*BaseExecutor
	actions *ActionRegistry
}

// NewUsesExecutor creates an action executor backed by the default action
// registry.
func NewUsesExecutor() *UsesExecutor {
	return NewUsesExecutorWithActions(DefaultActions)
}

// NewUsesExecutorWithActions creates an action executor backed by the given
// registry.
func NewUsesExecutorWithActions(actions *ActionRegistry) *UsesExecutor {
	return &UsesExecutor{
		BaseExecutor: NewBaseExecutor(UsesExecutorType),
		actions:      actions,
	}
}

// Execute resolves and runs the step's action.
func (e *UsesExecutor) Execute(ctx context.Context, step *types.Step, sc *StepContext) (*types.StepResult, error) {
	result := types.NewStepResult(0, step.ID, step.DisplayName())

	action, _, err := resolveAction(e.actions, step.Uses)
	if err != nil {
		result.Fail(err)
		return result, nil
	}

	with, err := sc.InterpolateMap(step.With)
	if err != nil {
		result.Fail(NewConfigError("failed to resolve step inputs", err))
		return result, nil
	}

	in := &ActionInputs{Ref: step.Uses, With: with}
	if err := action.Run(ctx, sc, in, result); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			result.Cancel()
			result.Error = "step was cancelled"
		case errors.Is(err, context.DeadlineExceeded):
			result.Fail(NewTimeoutError(step.ID, step.Timeout()))
		default:
			result.Fail(err)
		}
	}
	return result, nil
}

// resolveAction strips the @ref suffix and then leading path segments until
// a registered action name matches.
func resolveAction(reg *ActionRegistry, ref string) (Action, string, error) {
	name := ref
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.Trim(name, "/")
	for name != "" {
		if action, ok := reg.Get(name); ok {
			return action, name, nil
		}
		i := strings.IndexByte(name, '/')
		if i < 0 {
			break
		}
		name = name[i+1:]
	}
	return nil, "", NewUnknownActionError(ref)
}

func init() {
	MustRegister(NewUsesExecutor())
}
