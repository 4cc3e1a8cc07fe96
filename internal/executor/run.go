package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

const (
	// RunExecutorType is the type identifier of the shell executor.
	RunExecutorType = "run"

	// logTailLimit is how many trailing output lines a step result keeps.
	logTailLimit = 50

	// stdoutCaptureLimit bounds the stdout copy kept for declarative
	// output extraction.
	stdoutCaptureLimit = 4 << 20
)

// RunExecutor executes run: steps through a shell. Output is streamed
// line-wise to the step context's log sink; lines starting with "::" are
// workflow commands handled by the runner instead. Step outputs are
// collected from ::set-output lines, from the file named by
// MATRIXCI_OUTPUT and, for steps declaring outputs:, from JSONPath
// expressions over the step's stdout.
type RunExecutor struct {
	*BaseExecutor
	shell     string
	shellArgs []string
}

// NewRunExecutor creates a new shell executor.
func NewRunExecutor() *RunExecutor {
	return &RunExecutor{
		BaseExecutor: NewBaseExecutor(RunExecutorType),
	}
}

// Init reads the default shell from the executor configuration. Steps still
// override it with shell:.
func (e *RunExecutor) Init(ctx context.Context, config map[string]any) error {
	if err := e.BaseExecutor.Init(ctx, config); err != nil {
		return err
	}

	e.shell = e.GetConfigString("shell", "")
	e.shellArgs = nil
	if args, ok := config["shell_args"].([]any); ok {
		for _, arg := range args {
			if s, ok := arg.(string); ok {
				e.shellArgs = append(e.shellArgs, s)
			}
		}
	}
	return nil
}

// Execute runs the step's script.
func (e *RunExecutor) Execute(ctx context.Context, step *types.Step, sc *StepContext) (*types.StepResult, error) {
	result := types.NewStepResult(0, step.ID, step.DisplayName())

	script, err := sc.Interpolate(step.Run)
	if err != nil {
		result.Fail(NewConfigError("failed to resolve run script", err))
		return result, nil
	}
	shellName, err := sc.Interpolate(step.Shell)
	if err != nil {
		result.Fail(NewConfigError("failed to resolve shell", err))
		return result, nil
	}
	shell, args := e.resolveShell(shellName)

	workDir := sc.Workspace
	if step.WorkingDirectory != "" {
		wd, err := sc.Interpolate(step.WorkingDirectory)
		if err != nil {
			result.Fail(NewConfigError("failed to resolve working directory", err))
			return result, nil
		}
		if !filepath.IsAbs(wd) {
			wd = filepath.Join(sc.Workspace, wd)
		}
		workDir = wd
	}

	outputFile, err := os.CreateTemp("", "matrixci-output-*")
	if err != nil {
		result.Fail(NewExecutionError(step.ID, "failed to create step output file", err))
		return result, nil
	}
	outputPath := outputFile.Name()
	outputFile.Close()
	defer os.Remove(outputPath)

	cmd := exec.CommandContext(ctx, shell, append(args, script)...)
	cmd.Dir = workDir
	cmd.Env = buildEnv(sc, outputPath)

	// Run the shell in its own process group and kill the whole group on
	// cancellation, so background children do not outlive the step.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var tail []string
	lw := newLineWriter(func(line string) {
		if handleDirective(sc, result, line) {
			return
		}
		sc.Log(line)
		tail = append(tail, line)
		if len(tail) > logTailLimit {
			tail = tail[1:]
		}
	})

	stdout := &capWriter{limit: stdoutCaptureLimit}
	if len(step.Outputs) > 0 {
		cmd.Stdout = io.MultiWriter(stdout, lw)
	} else {
		cmd.Stdout = lw
	}
	cmd.Stderr = lw

	runErr := cmd.Run()
	lw.Flush()
	result.LogTail = tail

	if runErr != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.ExitCode = -1
			result.Fail(NewTimeoutError(step.ID, step.Timeout()))
		case ctx.Err() == context.Canceled:
			result.ExitCode = -1
			result.Cancel()
			result.Error = "step was cancelled"
		default:
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
				result.Fail(NewExecutionError(step.ID,
					fmt.Sprintf("command exited with code %d", exitErr.ExitCode()), nil))
			} else {
				result.ExitCode = -1
				result.Fail(NewExecutionError(step.ID, "command failed to run", runErr))
			}
		}
	}

	outputs, err := parseOutputFile(outputPath)
	if err != nil {
		sc.Logf("warning: failed to read step outputs: %v", err)
	}
	for k, v := range outputs {
		result.Outputs[k] = v
	}

	if runErr == nil && len(step.Outputs) > 0 {
		if stdout.truncated {
			sc.Logf("warning: stdout exceeded %d bytes, declared outputs skipped", stdoutCaptureLimit)
		} else {
			extractJSONOutputs(step, sc, result, stdout.Bytes())
		}
	}

	return result, nil
}

// resolveShell maps a shell: value to the command and its argument prefix.
func (e *RunExecutor) resolveShell(name string) (string, []string) {
	if name == "" {
		if e.shell != "" {
			if len(e.shellArgs) > 0 {
				return e.shell, e.shellArgs
			}
			name = e.shell
		} else {
			return "sh", []string{"-e", "-c"}
		}
	}

	switch {
	case name == "sh":
		return name, []string{"-e", "-c"}
	case strings.Contains(name, "bash"):
		return name, []string{"-e", "-o", "pipefail", "-c"}
	case strings.Contains(name, "powershell"), strings.Contains(name, "pwsh"):
		return name, []string{"-Command"}
	case strings.Contains(name, "cmd"):
		return name, []string{"/C"}
	case strings.Contains(name, "python"):
		return name, []string{"-c"}
	default:
		return name, []string{"-c"}
	}
}

// buildEnv merges the process environment, the step's merged env and the
// runner-provided variables, later entries winning.
func buildEnv(sc *StepContext, outputPath string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(sc.Env))
	for k := range sc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+sc.Env[k])
	}
	env = append(env,
		"MATRIXCI=true",
		"CI=true",
		"MATRIXCI_RUN_ID="+sc.RunID,
		"MATRIXCI_JOB="+sc.JobID,
		"MATRIXCI_WORKSPACE="+sc.Workspace,
		"MATRIXCI_OUTPUT="+outputPath,
	)
	if sc.Event != nil {
		env = append(env,
			"MATRIXCI_EVENT="+string(sc.Event.Type),
			"MATRIXCI_REF="+sc.Event.Ref,
			"MATRIXCI_SHA="+sc.Event.SHA,
		)
	}
	return env
}

// directivePrefix marks a line of step output as a workflow command.
const directivePrefix = "::"

// handleDirective reacts to workflow commands scripts print on stdout:
// "::set-output name=value" records a step output, "::export-env
// name=value" exports an environment value to the remaining steps and
// "::add-mask value" redacts the value from all further output. Handled
// lines are consumed, they never reach the log. Malformed directives fall
// through and are logged verbatim.
func handleDirective(sc *StepContext, result *types.StepResult, line string) bool {
	if !strings.HasPrefix(line, directivePrefix) {
		return false
	}
	cmd, rest, _ := strings.Cut(line[len(directivePrefix):], " ")
	switch cmd {
	case "set-output":
		name, value, ok := strings.Cut(rest, "=")
		if name = strings.TrimSpace(name); ok && name != "" {
			result.Outputs[name] = value
			return true
		}
	case "export-env":
		name, value, ok := strings.Cut(rest, "=")
		if name = strings.TrimSpace(name); ok && name != "" {
			sc.ExportEnv(name, value)
			return true
		}
	case "add-mask":
		if v := strings.TrimSpace(rest); v != "" {
			if sc.Masker != nil {
				sc.Masker.Add(v)
			}
			return true
		}
	}
	return false
}

// parseOutputFile reads name=value lines written to the MATRIXCI_OUTPUT
// file. Values keep their spelling, blank lines and lines without = are
// ignored.
func parseOutputFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		outputs[name] = value
	}
	return outputs, nil
}

// extractJSONOutputs evaluates the step's declared outputs: JSONPath
// expressions against the step's stdout. Non-JSON stdout or an unmatched
// path skips the output with a warning rather than failing the step.
func extractJSONOutputs(step *types.Step, sc *StepContext, result *types.StepResult, stdout []byte) {
	var data any
	if err := jsonutil.Unmarshal(bytes.TrimSpace(stdout), &data); err != nil {
		sc.Logf("warning: step declares outputs but its stdout is not JSON: %v", err)
		return
	}

	names := make([]string, 0, len(step.Outputs))
	for name := range step.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pathExpr := step.Outputs[name]
		path, err := jp.ParseString(pathExpr)
		if err != nil {
			sc.Logf("warning: output %q has an invalid JSONPath %q: %v", name, pathExpr, err)
			continue
		}
		results := path.Get(data)
		if len(results) == 0 {
			sc.Logf("warning: output %q: JSONPath %q matched nothing", name, pathExpr)
			continue
		}
		var value any
		if len(results) == 1 {
			value = results[0]
		} else {
			value = results
		}
		result.Outputs[name] = stringifyOutput(value)
	}
}

func stringifyOutput(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, err := jsonutil.MarshalString(v); err == nil {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// lineWriter splits writes into lines and hands each completed line to
// emit. exec.Cmd writes stdout and stderr from separate goroutines, so
// emit runs under the writer's lock.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(line string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line, keep it for the next write.
			w.buf.WriteString(line)
			break
		}
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}

// capWriter keeps the first limit bytes written and silently drops the
// rest.
type capWriter struct {
	limit     int
	buf       bytes.Buffer
	truncated bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
			w.truncated = true
		}
		w.buf.Write(p)
	} else if n > 0 {
		w.truncated = true
	}
	return n, nil
}

func (w *capWriter) Bytes() []byte {
	return w.buf.Bytes()
}

func init() {
	MustRegister(NewRunExecutor())
}
