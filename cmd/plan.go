package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zacharyburnett/matrixci/internal/event"
	"github.com/zacharyburnett/matrixci/internal/matrix"
	"github.com/zacharyburnett/matrixci/internal/parser"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

var planFlags eventFlags

// planCmd is the plan subcommand.
var planCmd = &cobra.Command{
	Use:   "plan <workflow.yml>",
	Short: "Show what a workflow would run for an event",
	Long: `Match an event against a workflow's triggers and print the jobs and
matrix cells a run would schedule, without executing anything. Job if:
conditions are evaluated at run time and are not applied here.`,
	Example: `  matrixci plan build.yml
  matrixci plan build.yml --event pull_request --target-branch main`,
	Args: cobra.ExactArgs(1),
	RunE: planWorkflow,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planFlags.register(planCmd)
}

func planWorkflow(cmd *cobra.Command, args []string) error {
	wf, err := parser.NewYAMLParser().ParseFile(args[0])
	if err != nil {
		return err
	}
	ev, err := planFlags.build()
	if err != nil {
		return err
	}

	lines, triggered, err := planLines(wf, ev)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}

	if !triggered {
		return &exitError{code: 1}
	}
	return nil
}

// planLines renders the plan for a workflow and an event. The second
// return value reports whether the event triggers the workflow.
func planLines(wf *types.Workflow, ev *types.Event) ([]string, bool, error) {
	header := fmt.Sprintf("workflow: %s", wf.Name)
	if wf.Source != "" {
		header += fmt.Sprintf(" (%s)", wf.Source)
	}

	evLine := fmt.Sprintf("event:    %s", ev.Type)
	if ev.Ref != "" {
		evLine += " " + ev.Ref
	}

	d := event.Match(&wf.On, ev)
	verdict := "triggered"
	if !d.Matched {
		verdict = "not triggered"
	}
	lines := []string{
		header,
		evLine,
		fmt.Sprintf("decision: %s, %s", verdict, d.Reason),
	}
	if !d.Matched {
		return lines, false, nil
	}

	lines = append(lines, "", "jobs:")
	for _, job := range wf.OrderedJobs() {
		needs := "-"
		if len(job.Needs) > 0 {
			needs = strings.Join(job.Needs, ", ")
		}

		if job.Strategy == nil || job.Strategy.Matrix == nil {
			lines = append(lines, fmt.Sprintf("  %-40s needs: %s", job.DisplayName(), needs))
			continue
		}

		cells, err := matrix.Expand(job.Strategy.Matrix)
		if err != nil {
			return nil, false, fmt.Errorf("job %s: %w", job.ID, err)
		}
		lines = append(lines, fmt.Sprintf("  %s, %d cells  needs: %s", job.DisplayName(), len(cells), needs))
		for _, cell := range cells {
			lines = append(lines, "    "+cell.DecorateName(job.DisplayName()))
		}
	}
	return lines, true, nil
}
