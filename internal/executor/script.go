package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// ScriptExecutorType is the type identifier of the JavaScript executor.
const ScriptExecutorType = "script"

// IsScriptShell reports whether a shell: value routes the step to the
// JavaScript executor instead of a system shell.
func IsScriptShell(shell string) bool {
	switch strings.ToLower(shell) {
	case "js", "javascript":
		return true
	}
	return false
}

// ScriptExecutor runs JavaScript steps on an embedded engine. The script
// sees a frozen ci host object carrying the event, the matrix cell and the
// step environment, plus ci.setOutput, ci.log and ci.fail.
type ScriptExecutor struct {
	*BaseExecutor
}

// NewScriptExecutor creates a new JavaScript executor.
func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{
		BaseExecutor: NewBaseExecutor(ScriptExecutorType),
	}
}

// Execute runs the step's script in a fresh runtime.
func (e *ScriptExecutor) Execute(ctx context.Context, step *types.Step, sc *StepContext) (*types.StepResult, error) {
	result := types.NewStepResult(0, step.ID, step.DisplayName())

	script, err := sc.Interpolate(step.Run)
	if err != nil {
		result.Fail(NewConfigError("failed to resolve script", err))
		return result, nil
	}

	vm := goja.New()
	host := &scriptHost{sc: sc, result: result}
	if err := setupScriptRuntime(vm, sc, host); err != nil {
		result.Fail(NewConfigError("failed to set up script runtime", err))
		return result, nil
	}

	// Interrupt the runtime when the step is cancelled or times out.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("step cancelled")
		case <-done:
		}
	}()

	val, runErr := vm.RunString(script)
	close(done)
	result.LogTail = host.tail

	if runErr != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.Fail(NewTimeoutError(step.ID, step.Timeout()))
		case ctx.Err() == context.Canceled:
			result.Cancel()
			result.Error = "step was cancelled"
		default:
			result.Fail(NewExecutionError(step.ID, "script failed", runErr))
		}
		return result, nil
	}

	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		exported := val.Export()
		if s, ok := exported.(string); ok {
			result.Outputs["result"] = s
		} else if s, err := jsonutil.MarshalString(exported); err == nil {
			result.Outputs["result"] = s
		}
	}

	if host.failed {
		result.Fail(NewExecutionError(step.ID, host.failMsg, nil))
	}
	return result, nil
}

// scriptHost collects what the script reports back through the ci object.
type scriptHost struct {
	sc      *StepContext
	result  *types.StepResult
	failed  bool
	failMsg string
	tail    []string
}

func (h *scriptHost) logLine(line string) {
	h.sc.Log(line)
	h.tail = append(h.tail, line)
	if len(h.tail) > logTailLimit {
		h.tail = h.tail[1:]
	}
}

// setupScriptRuntime builds the ci host object and the console shim. The
// data half of ci is materialized from JSON so it is a plain JS object that
// Object.freeze fully protects.
func setupScriptRuntime(vm *goja.Runtime, sc *StepContext, host *scriptHost) error {
	event := map[string]any{}
	if sc.Event != nil {
		event = sc.Event.ContextMap()
	}
	matrix := sc.Matrix
	if matrix == nil {
		matrix = map[string]any{}
	}
	env := make(map[string]string, len(sc.Env))
	for k, v := range sc.Env {
		env[k] = v
	}

	data, err := jsonutil.MarshalString(map[string]any{
		"event":     event,
		"matrix":    matrix,
		"env":       env,
		"workspace": sc.Workspace,
		"job":       sc.JobID,
		"runId":     sc.RunID,
	})
	if err != nil {
		return err
	}
	if _, err := vm.RunString("var ci = " + data + ";"); err != nil {
		return err
	}

	ci := vm.Get("ci").ToObject(vm)

	ci.Set("setOutput", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return goja.Undefined()
		}
		name := call.Arguments[0].String()
		host.result.Outputs[name] = stringifyOutput(call.Arguments[1].Export())
		return goja.Undefined()
	})

	ci.Set("log", func(call goja.FunctionCall) goja.Value {
		host.logLine(formatScriptArgs(call.Arguments))
		return goja.Undefined()
	})

	ci.Set("fail", func(call goja.FunctionCall) goja.Value {
		msg := "step failed"
		if len(call.Arguments) > 0 {
			msg = call.Arguments[0].String()
		}
		host.failed = true
		host.failMsg = msg
		return goja.Undefined()
	})

	setupConsole(vm, host)

	_, err = vm.RunString("Object.freeze(ci.event); Object.freeze(ci.matrix); Object.freeze(ci.env); Object.freeze(ci);")
	return err
}

func setupConsole(vm *goja.Runtime, host *scriptHost) {
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		tag := strings.ToUpper(level)
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			host.logLine(fmt.Sprintf("[%s] %s", tag, formatScriptArgs(call.Arguments)))
			return goja.Undefined()
		})
	}
	vm.Set("console", console)
}

func formatScriptArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = formatScriptValue(arg)
	}
	return strings.Join(parts, " ")
}

func formatScriptValue(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return "undefined"
	}
	if goja.IsNull(val) {
		return "null"
	}

	exported := val.Export()
	switch v := exported.(type) {
	case string:
		return v
	case map[string]any, []any:
		if s, err := jsonutil.MarshalString(v); err == nil {
			return s
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func init() {
	MustRegister(NewScriptExecutor())
}
