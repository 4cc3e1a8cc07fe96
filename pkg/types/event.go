package types

import (
	"fmt"
	"strings"
	"time"
)

// EventType identifies the kind of repository event that can start a run.
type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
	EventSchedule    EventType = "schedule"
	EventDispatch    EventType = "workflow_dispatch"
)

// KnownEventTypes lists every event type the runner understands.
var KnownEventTypes = []EventType{EventPush, EventPullRequest, EventSchedule, EventDispatch}

// ParseEventType validates an event name from the CLI or the API.
func ParseEventType(s string) (EventType, error) {
	for _, et := range KnownEventTypes {
		if s == string(et) {
			return et, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is a repository event delivered to the runner, either synthesized by
// the CLI, received on the events endpoint, or fired by the cron scheduler.
type Event struct {
	Type       EventType `json:"type"`
	Ref        string    `json:"ref,omitempty"`
	SHA        string    `json:"sha,omitempty"`
	Repository string    `json:"repository,omitempty"`
	Actor      string    `json:"actor,omitempty"`

	// Action is the pull request activity type (opened, synchronize, ...).
	Action string `json:"action,omitempty"`

	// TargetBranch is the branch a pull request merges into.
	TargetBranch string `json:"target_branch,omitempty"`

	// Files lists the paths changed by the event, used by paths filters.
	// Empty means unknown, which disables paths filtering.
	Files []string `json:"files,omitempty"`

	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time,omitempty"`
}

const (
	branchRefPrefix = "refs/heads/"
	tagRefPrefix    = "refs/tags/"
)

// IsTag reports whether the event ref points at a tag.
func (e *Event) IsTag() bool {
	return strings.HasPrefix(e.Ref, tagRefPrefix)
}

// Branch returns the short branch name, or "" when the ref is not a branch.
func (e *Event) Branch() string {
	if strings.HasPrefix(e.Ref, branchRefPrefix) {
		return e.Ref[len(branchRefPrefix):]
	}
	if e.Ref != "" && !e.IsTag() && !strings.HasPrefix(e.Ref, "refs/") {
		return e.Ref
	}
	return ""
}

// Tag returns the short tag name, or "" when the ref is not a tag.
func (e *Event) Tag() string {
	if e.IsTag() {
		return e.Ref[len(tagRefPrefix):]
	}
	return ""
}

// ShortRef returns the branch or tag name, whichever the ref denotes.
func (e *Event) ShortRef() string {
	if tag := e.Tag(); tag != "" {
		return tag
	}
	return e.Branch()
}

// Validate checks the event for the fields its type requires.
func (e *Event) Validate() error {
	if _, err := ParseEventType(string(e.Type)); err != nil {
		return err
	}
	switch e.Type {
	case EventPush:
		if e.Ref == "" {
			return fmt.Errorf("push event requires a ref")
		}
	case EventPullRequest:
		if e.TargetBranch == "" {
			return fmt.Errorf("pull_request event requires a target branch")
		}
	}
	return nil
}

// ContextMap renders the event for the expression context, mirroring the
// payload shape workflows observe.
func (e *Event) ContextMap() map[string]any {
	m := map[string]any{
		"type":       string(e.Type),
		"ref":        e.Ref,
		"sha":        e.SHA,
		"repository": e.Repository,
		"actor":      e.Actor,
		"branch":     e.Branch(),
		"tag":        e.Tag(),
	}
	if e.Action != "" {
		m["action"] = e.Action
	}
	if e.TargetBranch != "" {
		m["target_branch"] = e.TargetBranch
	}
	if e.Payload != nil {
		m["payload"] = e.Payload
	}
	return m
}
