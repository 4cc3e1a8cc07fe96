package executor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// setupRuntimeAction pins an interpreter version for the rest of the job.
// It is registered both as setup-runtime and as setup-python; the python
// variant additionally exports MATRIXCI_PYTHON for tool scripts that key on
// it.
type setupRuntimeAction struct {
	name string
}

func (a *setupRuntimeAction) Name() string { return a.name }

func (a *setupRuntimeAction) Run(ctx context.Context, sc *StepContext, in *ActionInputs, result *types.StepResult) error {
	version := in.Get("python-version", "")
	if version == "" {
		version = in.Get("version", "")
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return NewConfigError(fmt.Sprintf("%s requires a version", a.name), nil)
	}

	sc.ExportEnv("MATRIXCI_RUNTIME_VERSION", version)
	if strings.Contains(a.name, "python") {
		sc.ExportEnv("MATRIXCI_PYTHON", version)
	}

	if p := in.Get("path", ""); p != "" {
		current := sc.Env["PATH"]
		if current == "" {
			current = os.Getenv("PATH")
		}
		sc.ExportEnv("PATH", p+string(os.PathListSeparator)+current)
		sc.Logf("prepended %s to PATH", p)
	}

	result.Outputs["version"] = version
	sc.Logf("runtime version %s", version)
	return nil
}

func init() {
	MustRegisterAction(&setupRuntimeAction{name: "setup-runtime"})
	MustRegisterAction(&setupRuntimeAction{name: "setup-python"})
}
