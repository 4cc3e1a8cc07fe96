package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// eventFlags collects the flags that synthesize the repository event a
// run or plan is resolved against.
type eventFlags struct {
	event        string
	ref          string
	sha          string
	repo         string
	actor        string
	targetBranch string
	changed      []string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.event, "event", "e", "push", "event type: push, pull_request, schedule, workflow_dispatch")
	cmd.Flags().StringVar(&f.ref, "ref", "refs/heads/main", "git ref the event points at")
	cmd.Flags().StringVar(&f.sha, "sha", "", "commit sha")
	cmd.Flags().StringVar(&f.repo, "repo", "", "repository the event belongs to, owner/name")
	cmd.Flags().StringVar(&f.actor, "actor", "", "user the event is attributed to")
	cmd.Flags().StringVar(&f.targetBranch, "target-branch", "", "branch a pull request merges into")
	cmd.Flags().StringArrayVar(&f.changed, "changed", nil, "changed file path, repeatable; feeds paths filters")
}

func (f *eventFlags) build() (*types.Event, error) {
	name := f.event
	if name == "dispatch" {
		name = string(types.EventDispatch)
	}
	et, err := types.ParseEventType(name)
	if err != nil {
		return nil, err
	}

	ev := &types.Event{
		Type:         et,
		Ref:          f.ref,
		SHA:          f.sha,
		Repository:   f.repo,
		Actor:        f.actor,
		TargetBranch: f.targetBranch,
		Files:        f.changed,
		Time:         time.Now(),
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}
