package event

import (
	"fmt"

	"github.com/duke-git/lancet/v2/slice"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// Decision is the outcome of matching an event against a workflow's
// triggers, with a human-readable reason either way.
type Decision struct {
	Matched bool
	Reason  string
}

func matched(format string, args ...any) Decision {
	return Decision{Matched: true, Reason: fmt.Sprintf(format, args...)}
}

func unmatched(format string, args ...any) Decision {
	return Decision{Matched: false, Reason: fmt.Sprintf(format, args...)}
}

// Match decides whether an event starts a workflow.
func Match(triggers *types.Triggers, ev *types.Event) Decision {
	if triggers == nil || triggers.Empty() {
		return unmatched("workflow declares no triggers")
	}

	switch ev.Type {
	case types.EventPush:
		if triggers.Push == nil {
			return unmatched("workflow does not declare a push trigger")
		}
		return matchPush(triggers.Push, ev)

	case types.EventPullRequest:
		if triggers.PullRequest == nil {
			return unmatched("workflow does not declare a pull_request trigger")
		}
		return matchPullRequest(triggers.PullRequest, ev)

	case types.EventSchedule:
		if len(triggers.Schedule) == 0 {
			return unmatched("workflow does not declare a schedule trigger")
		}
		return matched("schedule trigger declared (%d cron entries)", len(triggers.Schedule))

	case types.EventDispatch:
		if triggers.Dispatch == nil {
			return unmatched("workflow does not declare workflow_dispatch")
		}
		return matched("workflow_dispatch declared")
	}

	return unmatched("unknown event type %q", ev.Type)
}

func matchPush(t *types.RefTrigger, ev *types.Event) Decision {
	hasBranchFilter := len(t.Branches) > 0 || len(t.BranchesIgnore) > 0
	hasTagFilter := len(t.Tags) > 0 || len(t.TagsIgnore) > 0

	if ev.IsTag() {
		tag := ev.Tag()
		if !hasTagFilter {
			if hasBranchFilter {
				return unmatched("tag push %q does not satisfy branch filters", tag)
			}
			return matched("push trigger has no ref filters")
		}
		if len(t.TagsIgnore) > 0 && matchList(t.TagsIgnore, tag) {
			return unmatched("tag %q matches tags-ignore", tag)
		}
		if len(t.Tags) > 0 {
			if !matchList(t.Tags, tag) {
				return unmatched("tag %q matches no tag pattern", tag)
			}
		}
		if !matchPaths(t.Paths, t.PathsIgnore, ev.Files) {
			return unmatched("changed files do not satisfy paths filters")
		}
		return matched("tag %q matched tag patterns", tag)
	}

	branch := ev.Branch()
	if hasBranchFilter {
		if len(t.BranchesIgnore) > 0 && matchList(t.BranchesIgnore, branch) {
			return unmatched("branch %q matches branches-ignore", branch)
		}
		if len(t.Branches) > 0 && !matchList(t.Branches, branch) {
			return unmatched("branch %q matches no branch pattern", branch)
		}
	} else if hasTagFilter {
		return unmatched("branch push %q does not satisfy tag filters", branch)
	}
	if !matchPaths(t.Paths, t.PathsIgnore, ev.Files) {
		return unmatched("changed files do not satisfy paths filters")
	}
	if len(t.Branches) > 0 {
		return matched("branch %q matched branch patterns", branch)
	}
	return matched("push trigger matched ref %q", ev.Ref)
}

func matchPullRequest(t *types.PullRequestTrigger, ev *types.Event) Decision {
	action := ev.Action
	if action == "" {
		action = "opened"
	}
	if !slice.Contain(t.EffectiveTypes(), action) {
		return unmatched("pull request action %q is not in the trigger types", action)
	}

	target := ev.TargetBranch
	if len(t.BranchesIgnore) > 0 && matchList(t.BranchesIgnore, target) {
		return unmatched("target branch %q matches branches-ignore", target)
	}
	if len(t.Branches) > 0 && !matchList(t.Branches, target) {
		return unmatched("target branch %q matches no branch pattern", target)
	}
	if !matchPaths(t.Paths, t.PathsIgnore, ev.Files) {
		return unmatched("changed files do not satisfy paths filters")
	}
	return matched("pull request %q against %q matched", action, target)
}
