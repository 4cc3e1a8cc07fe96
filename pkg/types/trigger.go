package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Triggers declares which repository events start a workflow. The YAML `on`
// key accepts a single event name, a list of event names, or a mapping from
// event name to filter configuration.
type Triggers struct {
	Push        *RefTrigger         `json:"push,omitempty"`
	PullRequest *PullRequestTrigger `json:"pull_request,omitempty"`
	Schedule    []ScheduleTrigger   `json:"schedule,omitempty"`
	Dispatch    *DispatchTrigger    `json:"workflow_dispatch,omitempty"`
}

// RefTrigger filters push events by branch, tag and changed paths. All
// pattern lists use the ref glob language (*, **, ?, leading ! negates).
type RefTrigger struct {
	Branches       []string `yaml:"branches,omitempty" json:"branches,omitempty"`
	BranchesIgnore []string `yaml:"branches-ignore,omitempty" json:"branches_ignore,omitempty"`
	Tags           []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	TagsIgnore     []string `yaml:"tags-ignore,omitempty" json:"tags_ignore,omitempty"`
	Paths          []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	PathsIgnore    []string `yaml:"paths-ignore,omitempty" json:"paths_ignore,omitempty"`
}

// PullRequestTrigger filters pull request events by activity type and target
// branch.
type PullRequestTrigger struct {
	Branches       []string `yaml:"branches,omitempty" json:"branches,omitempty"`
	BranchesIgnore []string `yaml:"branches-ignore,omitempty" json:"branches_ignore,omitempty"`
	Types          []string `yaml:"types,omitempty" json:"types,omitempty"`
	Paths          []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	PathsIgnore    []string `yaml:"paths-ignore,omitempty" json:"paths_ignore,omitempty"`
}

// DefaultPullRequestTypes are the activity types a pull_request trigger
// matches when none are declared.
var DefaultPullRequestTypes = []string{"opened", "synchronize", "reopened"}

// EffectiveTypes returns the declared activity types or the defaults.
func (t *PullRequestTrigger) EffectiveTypes() []string {
	if len(t.Types) > 0 {
		return t.Types
	}
	return DefaultPullRequestTypes
}

// ScheduleTrigger is one cron entry of a schedule trigger.
type ScheduleTrigger struct {
	Cron string `yaml:"cron" json:"cron"`
}

// DispatchTrigger marks a workflow as manually runnable.
type DispatchTrigger struct{}

// Empty reports whether no trigger is declared.
func (t *Triggers) Empty() bool {
	return t.Push == nil && t.PullRequest == nil && len(t.Schedule) == 0 && t.Dispatch == nil
}

// Has reports whether the given event type is declared.
func (t *Triggers) Has(et EventType) bool {
	switch et {
	case EventPush:
		return t.Push != nil
	case EventPullRequest:
		return t.PullRequest != nil
	case EventSchedule:
		return len(t.Schedule) > 0
	case EventDispatch:
		return t.Dispatch != nil
	}
	return false
}

var refTriggerKeys = map[string]bool{
	"branches": true, "branches-ignore": true,
	"tags": true, "tags-ignore": true,
	"paths": true, "paths-ignore": true,
}

var pullRequestTriggerKeys = map[string]bool{
	"branches": true, "branches-ignore": true, "types": true,
	"paths": true, "paths-ignore": true,
}

// UnmarshalYAML accepts the three `on` shapes: `on: push`,
// `on: [push, pull_request]` and the full mapping form.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return t.enable(value.Value, nil, value.Line)
	case yaml.SequenceNode:
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: trigger list entries must be event names", item.Line)
			}
			if err := t.enable(item.Value, nil, item.Line); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i < len(value.Content)-1; i += 2 {
			keyNode, valNode := value.Content[i], value.Content[i+1]
			if err := t.enable(keyNode.Value, valNode, keyNode.Line); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("line %d: invalid trigger declaration", value.Line)
}

func (t *Triggers) enable(event string, config *yaml.Node, line int) error {
	isNull := config == nil || config.Tag == "!!null"
	switch event {
	case "push":
		t.Push = &RefTrigger{}
		if isNull {
			return nil
		}
		if err := checkKeys(config, refTriggerKeys, event); err != nil {
			return err
		}
		return config.Decode(t.Push)
	case "pull_request":
		t.PullRequest = &PullRequestTrigger{}
		if isNull {
			return nil
		}
		if err := checkKeys(config, pullRequestTriggerKeys, event); err != nil {
			return err
		}
		return config.Decode(t.PullRequest)
	case "schedule":
		if isNull {
			return fmt.Errorf("schedule trigger requires at least one cron entry")
		}
		return config.Decode(&t.Schedule)
	case "workflow_dispatch":
		t.Dispatch = &DispatchTrigger{}
		if isNull {
			return nil
		}
		if config.Kind == yaml.MappingNode && len(config.Content) == 0 {
			return nil
		}
		return fmt.Errorf("line %d: workflow_dispatch takes no configuration", config.Line)
	}
	return fmt.Errorf("line %d: unknown trigger event %q", line, event)
}

func checkKeys(node *yaml.Node, allowed map[string]bool, event string) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s trigger must be a mapping", node.Line, event)
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i]
		if !allowed[key.Value] {
			return fmt.Errorf("line %d: unknown %s trigger field %q", key.Line, event, key.Value)
		}
	}
	return nil
}

// MarshalYAML renders the mapping form with events in canonical order.
func (t Triggers) MarshalYAML() (any, error) {
	out := struct {
		Push        *RefTrigger         `yaml:"push,omitempty"`
		PullRequest *PullRequestTrigger `yaml:"pull_request,omitempty"`
		Schedule    []ScheduleTrigger   `yaml:"schedule,omitempty"`
		Dispatch    *DispatchTrigger    `yaml:"workflow_dispatch,omitempty"`
	}{t.Push, t.PullRequest, t.Schedule, t.Dispatch}
	return out, nil
}
