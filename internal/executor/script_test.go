package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

func runScript(t *testing.T, sc *StepContext, source string) *types.StepResult {
	t.Helper()
	exec := NewScriptExecutor()
	require.NoError(t, exec.Init(context.Background(), nil))
	res, err := exec.Execute(context.Background(), &types.Step{Run: source, Shell: "js"}, sc)
	require.NoError(t, err)
	return res
}

func TestIsScriptShell(t *testing.T) {
	assert.True(t, IsScriptShell("js"))
	assert.True(t, IsScriptShell("JavaScript"))
	assert.False(t, IsScriptShell(""))
	assert.False(t, IsScriptShell("bash"))
}

func TestScriptExecutor_SetOutput(t *testing.T) {
	sc, _ := testStepContext(t)

	res := runScript(t, sc, `ci.setOutput("version", "1.0"); ci.setOutput("count", 3);`)

	assert.Equal(t, types.ConclusionSuccess, res.Outcome)
	assert.Equal(t, "1.0", res.Outputs["version"])
	assert.Equal(t, "3", res.Outputs["count"])
}

func TestScriptExecutor_ReturnValue(t *testing.T) {
	sc, _ := testStepContext(t)

	res := runScript(t, sc, `({ok: true, n: 2})`)

	assert.JSONEq(t, `{"ok": true, "n": 2}`, res.Outputs["result"])
}

func TestScriptExecutor_Log(t *testing.T) {
	sc, lines := testStepContext(t)

	runScript(t, sc, `ci.log("hello", 42); console.warn("careful");`)

	assert.Equal(t, []string{"hello 42", "[WARN] careful"}, *lines)
}

func TestScriptExecutor_Fail(t *testing.T) {
	sc, _ := testStepContext(t)

	res := runScript(t, sc, `ci.fail("bad state")`)

	assert.Equal(t, types.ConclusionFailure, res.Outcome)
	assert.Contains(t, res.Error, "bad state")
}

func TestScriptExecutor_HostData(t *testing.T) {
	sc, _ := testStepContext(t)
	sc.WithEnv(map[string]string{"TARGET": "linux"})
	sc.WithMatrix(map[string]any{"python": "3.11"})
	sc.WithEvent(&types.Event{Type: types.EventPush, Ref: "refs/heads/main"})

	res := runScript(t, sc, `ci.env.TARGET + " " + ci.matrix.python + " " + ci.event.ref`)

	assert.Equal(t, "linux 3.11 refs/heads/main", res.Outputs["result"])
}

func TestScriptExecutor_FrozenHost(t *testing.T) {
	sc, _ := testStepContext(t)
	sc.WithMatrix(map[string]any{"python": "3.11"})

	res := runScript(t, sc, `ci.matrix.python = "tampered"; ci.matrix.python`)

	assert.Equal(t, "3.11", res.Outputs["result"])
}

func TestScriptExecutor_SyntaxError(t *testing.T) {
	sc, _ := testStepContext(t)

	res := runScript(t, sc, `this is not javascript`)

	assert.Equal(t, types.ConclusionFailure, res.Outcome)
	assert.Contains(t, res.Error, "script failed")
}

func TestScriptExecutor_Timeout(t *testing.T) {
	sc, _ := testStepContext(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	exec := NewScriptExecutor()
	require.NoError(t, exec.Init(context.Background(), nil))
	res, err := exec.Execute(ctx, &types.Step{Run: `for (;;) {}`, Shell: "js"}, sc)
	require.NoError(t, err)

	assert.Equal(t, types.ConclusionFailure, res.Outcome)
	assert.Contains(t, res.Error, "timed out")
}
