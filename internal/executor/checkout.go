package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// checkoutAction populates the workspace from a git repository. Without a
// repository URL, from the step or the event, it runs in local mode and
// only verifies the workspace already holds the sources.
type checkoutAction struct{}

func (a *checkoutAction) Name() string { return "checkout" }

func (a *checkoutAction) Run(ctx context.Context, sc *StepContext, in *ActionInputs, result *types.StepResult) error {
	repo := in.Get("repository", "")
	if repo == "" && sc.Event != nil {
		repo = sc.Event.Repository
	}
	ref := in.Get("ref", "")
	if ref == "" && sc.Event != nil {
		if sc.Event.SHA != "" {
			ref = sc.Event.SHA
		} else {
			ref = sc.Event.Ref
		}
	}
	depth, err := strconv.Atoi(in.Get("fetch-depth", "1"))
	if err != nil || depth < 0 {
		return NewConfigError(fmt.Sprintf("invalid fetch-depth %q", in.Get("fetch-depth", "1")), err)
	}

	if repo == "" {
		entries, err := os.ReadDir(sc.Workspace)
		if err != nil {
			return NewExecutionError("", "failed to read workspace", err)
		}
		if len(entries) == 0 {
			return NewExecutionError("", "workspace is empty and no repository was given", nil)
		}
		sc.Logf("using existing workspace contents (%d entries)", len(entries))
		return nil
	}

	if err := os.MkdirAll(sc.Workspace, 0o755); err != nil {
		return NewExecutionError("", "failed to create workspace", err)
	}

	depthArgs := func(args []string) []string {
		if depth > 0 {
			return append(args, "--depth", strconv.Itoa(depth))
		}
		return args
	}

	if _, err := os.Stat(filepath.Join(sc.Workspace, ".git")); os.IsNotExist(err) {
		args := depthArgs([]string{"clone"})
		if err := runGit(ctx, sc, append(args, repo, ".")...); err != nil {
			return err
		}
	} else if ref == "" {
		if err := runGit(ctx, sc, depthArgs([]string{"fetch"})...); err != nil {
			return err
		}
	}

	if ref != "" {
		fetch := append(depthArgs([]string{"fetch"}), "origin", ref)
		if err := runGit(ctx, sc, fetch...); err != nil {
			return err
		}
		if err := runGit(ctx, sc, "checkout", "--force", "FETCH_HEAD"); err != nil {
			return err
		}
		result.Outputs["ref"] = ref
	}
	return nil
}

func runGit(ctx context.Context, sc *StepContext, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = sc.Workspace
	lw := newLineWriter(func(line string) { sc.Log(line) })
	cmd.Stdout = lw
	cmd.Stderr = lw
	err := cmd.Run()
	lw.Flush()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewExecutionError("", fmt.Sprintf("git %s failed", args[0]), err)
	}
	return nil
}

func init() {
	MustRegisterAction(&checkoutAction{})
}
