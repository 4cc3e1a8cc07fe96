package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// mockExecutor is a test executor implementation.
type mockExecutor struct {
	*BaseExecutor
	initCalled    bool
	cleanupCalled bool
	initError     error
	cleanupError  error
}

func newMockExecutor(execType string) *mockExecutor {
	return &mockExecutor{
		BaseExecutor: NewBaseExecutor(execType),
	}
}

func (m *mockExecutor) Init(ctx context.Context, config map[string]any) error {
	m.initCalled = true
	if m.initError != nil {
		return m.initError
	}
	return m.BaseExecutor.Init(ctx, config)
}

func (m *mockExecutor) Execute(ctx context.Context, step *types.Step, sc *StepContext) (*types.StepResult, error) {
	return types.NewStepResult(0, step.ID, step.DisplayName()), nil
}

func (m *mockExecutor) Cleanup(ctx context.Context) error {
	m.cleanupCalled = true
	return m.cleanupError
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	exec := newMockExecutor("run")

	require.NoError(t, registry.Register(exec))
	assert.Equal(t, 1, registry.Count())
	assert.True(t, registry.Has("run"))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(newMockExecutor("run")))
	err := registry.Register(newMockExecutor("run"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Register_Invalid(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil executor")

	err = registry.Register(newMockExecutor(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestRegistry_MustRegister_Panics(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(newMockExecutor("run"))

	assert.Panics(t, func() {
		registry.MustRegister(newMockExecutor("run"))
	})
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(newMockExecutor("run"))
	require.True(t, registry.Has("run"))

	registry.Unregister("run")
	assert.False(t, registry.Has("run"))
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	exec := newMockExecutor("run")
	registry.MustRegister(exec)

	assert.Equal(t, exec, registry.Get("run"))
	assert.Nil(t, registry.Get("nonexistent"))
}

func TestRegistry_GetOrError(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(newMockExecutor("run"))

	_, err := registry.GetOrError("run")
	require.NoError(t, err)

	_, err = registry.GetOrError("nonexistent")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "no executor registered")
}

func TestRegistry_Types(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(newMockExecutor("uses"))
	registry.MustRegister(newMockExecutor("run"))

	assert.Equal(t, []string{"run", "uses"}, registry.Types())
}

func TestRegistry_InitAll(t *testing.T) {
	registry := NewRegistry()
	a := newMockExecutor("a")
	b := newMockExecutor("b")
	registry.MustRegister(a)
	registry.MustRegister(b)

	err := registry.InitAll(context.Background(), map[string]map[string]any{
		"a": {"shell": "bash"},
	})
	require.NoError(t, err)
	assert.True(t, a.initCalled)
	assert.True(t, b.initCalled)
	assert.Equal(t, "bash", a.GetConfigString("shell", ""))
}

func TestRegistry_InitAll_Error(t *testing.T) {
	registry := NewRegistry()
	bad := newMockExecutor("bad")
	bad.initError = fmt.Errorf("boom")
	registry.MustRegister(bad)

	err := registry.InitAll(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize executor bad")
}

func TestRegistry_CleanupAll(t *testing.T) {
	registry := NewRegistry()
	a := newMockExecutor("a")
	b := newMockExecutor("b")
	b.cleanupError = fmt.Errorf("boom")
	registry.MustRegister(a)
	registry.MustRegister(b)

	err := registry.CleanupAll(context.Background())
	require.Error(t, err)
	assert.True(t, a.cleanupCalled)
	assert.True(t, b.cleanupCalled)
}

func TestRegistry_RegisterAlias(t *testing.T) {
	registry := NewRegistry()
	exec := newMockExecutor("run")
	registry.MustRegister(exec)

	registry.RegisterAlias("shell", "run")
	assert.Equal(t, exec, registry.Get("shell"))

	registry.RegisterAlias("ghost", "nonexistent")
	assert.Nil(t, registry.Get("ghost"))
}

func TestDefaultRegistryBuiltins(t *testing.T) {
	assert.NotNil(t, Get(RunExecutorType))
	assert.NotNil(t, Get(ScriptExecutorType))
	assert.NotNil(t, Get(UsesExecutorType))
}

func TestDefaultActionsBuiltins(t *testing.T) {
	for _, name := range []string{
		"checkout",
		"setup-python",
		"setup-runtime",
		"cache",
		"cache/restore",
		"cache/save",
		"coverage-upload",
	} {
		assert.True(t, DefaultActions.Has(name), "missing action %s", name)
	}
}
