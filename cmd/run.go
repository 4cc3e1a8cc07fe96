package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zacharyburnett/matrixci/internal/config"
	"github.com/zacharyburnett/matrixci/internal/engine"
	"github.com/zacharyburnett/matrixci/internal/parser"
	"github.com/zacharyburnett/matrixci/internal/reporter"
	"github.com/zacharyburnett/matrixci/pkg/logger"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

var (
	// run command flags
	runFlags       eventFlags
	runJobs        []string
	runWorkers     int
	runSecretsFile string
	runOutputs     []string
	runWorkspace   string
	runKeep        bool
	runForce       bool
	runFailFast    bool
	runTimeout     time.Duration
)

// runCmd is the run subcommand.
var runCmd = &cobra.Command{
	Use:   "run <workflow.yml|dir>",
	Short: "Execute workflows for a synthesized event",
	Long: `Execute a workflow file, or every workflow in a directory, against an
event built from the command line flags. Workflows whose triggers do not
match the event are skipped unless --force is given.`,
	Example: `  # Run a workflow for a push to main
  matrixci run .ci/build.yml

  # Run every workflow in a directory for a pull request
  matrixci run .ci --event pull_request --target-branch main --ref refs/heads/fix

  # Run one job (plus its dependencies) and keep the workspace
  matrixci run build.yml --job test --keep-workspace

  # Ignore triggers and write the report to a file
  matrixci run build.yml --force --out json=report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflows,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// run command flags
	runFlags.register(runCmd)
	runCmd.Flags().StringArrayVar(&runJobs, "job", nil, "run only this job and its dependencies, repeatable")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "max matrix cells running at once (overrides config)")
	runCmd.Flags().StringVar(&runSecretsFile, "secrets-file", "", "YAML file with secret values")
	runCmd.Flags().StringArrayVarP(&runOutputs, "out", "o", nil, "report output, repeatable: console, json=PATH, webhook=URL")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "workspace root directory (overrides config)")
	runCmd.Flags().BoolVar(&runKeep, "keep-workspace", false, "keep job workspaces after the run")
	runCmd.Flags().BoolVar(&runForce, "force", false, "run even when the event does not match the triggers")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", true, "cancel sibling matrix cells after a failure (overrides workflows)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-job timeout (overrides config)")
}

func runWorkflows(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{}
	if runSecretsFile != "" {
		overrides["secrets.file"] = runSecretsFile
	}
	if runTimeout > 0 {
		overrides["runner.job_timeout"] = runTimeout.String()
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	defer logger.Sync()

	ev, err := runFlags.build()
	if err != nil {
		return err
	}

	workflows, err := collectWorkflows(args[0])
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	reporters, err := buildReporters(context.Background(), cfg, runOutputs, !quiet)
	if err != nil {
		return err
	}
	eng.WithReporters(reporters)
	defer reporters.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal cancels the run and lets it conclude, second one
	// exits on the spot.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt: cancelling run, press Ctrl+C again to exit immediately")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	var failFast *bool
	if cmd.Flags().Changed("fail-fast") {
		failFast = &runFailFast
	}
	opts := engine.Options{
		JobFilter:        runJobs,
		Force:            runForce,
		FailFastOverride: failFast,
		MaxWorkers:       runWorkers,
		Workspace:        runWorkspace,
		KeepWorkspace:    runKeep,
	}

	var ran, failed int
	for _, wf := range workflows {
		if !quiet {
			printRunHeader(wf, ev)
		}

		run, err := eng.Execute(ctx, wf, ev, opts)
		if err != nil {
			var mismatch *engine.TriggerMismatchError
			if errors.As(err, &mismatch) {
				if !quiet {
					fmt.Printf("not triggered: %s\n\n", mismatch.Reason)
				}
				continue
			}
			return fmt.Errorf("running %s: %w", wf.Name, err)
		}

		ran++
		if !run.Conclusion.OK() {
			failed++
		}
	}

	if ran == 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("no workflow triggered by %s event", ev.Type)}
	}
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// collectWorkflows loads one workflow file, or every workflow in a
// directory in name order.
func collectWorkflows(path string) ([]*types.Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	p := parser.NewYAMLParser()
	if !info.IsDir() {
		wf, err := p.ParseFile(path)
		if err != nil {
			return nil, err
		}
		return []*types.Workflow{wf}, nil
	}

	workflows, errs := p.ParseDir(path)
	for _, err := range errs {
		fmt.Fprintln(os.Stderr, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%d workflow(s) in %s failed to parse", len(errs), path)
	}
	if len(workflows) == 0 {
		return nil, fmt.Errorf("no workflows found in %s", path)
	}
	return workflows, nil
}

// buildReporters assembles the report sinks: --out flags when given,
// otherwise the configured reporters, otherwise a console reporter when
// defaultConsole is set.
func buildReporters(ctx context.Context, cfg *config.Config, outs []string, defaultConsole bool) (*reporter.Manager, error) {
	mgr := reporter.NewManager(nil)

	for _, out := range outs {
		spec, err := reporter.ParseOutputSpec(out)
		if err != nil {
			return nil, err
		}
		if err := mgr.AddSpec(ctx, spec); err != nil {
			return nil, err
		}
	}
	if mgr.Count() > 0 {
		return mgr, nil
	}

	for _, rc := range cfg.Reporters {
		if !rc.Enabled {
			continue
		}
		spec := &reporter.OutputSpec{Type: reporter.Type(rc.Type), Config: rc.Config}
		if err := mgr.AddSpec(ctx, spec); err != nil {
			return nil, err
		}
	}
	if mgr.Count() == 0 && defaultConsole {
		spec := &reporter.OutputSpec{Type: reporter.TypeConsole, Config: map[string]any{}}
		if err := mgr.AddSpec(ctx, spec); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

func printRunHeader(wf *types.Workflow, ev *types.Event) {
	fmt.Printf("workflow %s", wf.Name)
	if wf.Source != "" {
		fmt.Printf(" (%s)", wf.Source)
	}
	fmt.Printf(", event %s", ev.Type)
	if ev.Ref != "" {
		fmt.Printf(" %s", ev.Ref)
	}
	fmt.Println()
}
