// Package types defines the core data structures for the CI workflow runner:
// workflow definitions, trigger declarations, repository events, runs and
// reports.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Workflow represents a parsed workflow definition.
type Workflow struct {
	Name     string          `yaml:"name" json:"name"`
	On       Triggers        `yaml:"on" json:"on"`
	Env      StringMap       `yaml:"env,omitempty" json:"env,omitempty"`
	Defaults *Defaults       `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Jobs     map[string]*Job `yaml:"jobs" json:"jobs"`

	// JobOrder preserves the declaration order of the jobs mapping.
	// The parser fills it; programmatically built workflows may leave it
	// empty, in which case OrderedJobs falls back to sorted ids.
	JobOrder []string `yaml:"-" json:"job_order,omitempty"`

	// Source is the file path the workflow was loaded from, when known.
	Source string `yaml:"-" json:"source,omitempty"`
}

// OrderedJobs returns the jobs in declaration order.
func (w *Workflow) OrderedJobs() []*Job {
	order := w.JobOrder
	if len(order) != len(w.Jobs) {
		order = make([]string, 0, len(w.Jobs))
		for id := range w.Jobs {
			order = append(order, id)
		}
		sort.Strings(order)
	}
	jobs := make([]*Job, 0, len(order))
	for _, id := range order {
		if j, ok := w.Jobs[id]; ok {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Defaults holds workflow-level defaults applied to every job.
type Defaults struct {
	Run *RunDefaults `yaml:"run,omitempty" json:"run,omitempty"`
}

// RunDefaults holds defaults for run steps.
type RunDefaults struct {
	Shell            string `yaml:"shell,omitempty" json:"shell,omitempty"`
	WorkingDirectory string `yaml:"working-directory,omitempty" json:"working_directory,omitempty"`
}

// Job represents one job of a workflow. A job with a matrix strategy expands
// into one JobRun per surviving matrix cell.
type Job struct {
	Name            string            `yaml:"name,omitempty" json:"name,omitempty"`
	RunsOn          string            `yaml:"runs-on,omitempty" json:"runs_on,omitempty"`
	Needs           StringList        `yaml:"needs,omitempty" json:"needs,omitempty"`
	If              string            `yaml:"if,omitempty" json:"if,omitempty"`
	Env             StringMap         `yaml:"env,omitempty" json:"env,omitempty"`
	Strategy        *Strategy         `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Steps           []*Step           `yaml:"steps" json:"steps"`
	TimeoutMinutes  float64           `yaml:"timeout-minutes,omitempty" json:"timeout_minutes,omitempty"`
	ContinueOnError bool              `yaml:"continue-on-error,omitempty" json:"continue_on_error,omitempty"`
	Outputs         map[string]string `yaml:"outputs,omitempty" json:"outputs,omitempty"`

	// ID is the job's key in the workflow jobs mapping, set by the parser.
	ID string `yaml:"-" json:"id"`
}

// DisplayName returns the job name, falling back to its id.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// Timeout returns the job timeout, zero when unset.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMinutes * float64(time.Minute))
}

// FailFast reports whether the job's matrix cells cancel each other on the
// first failure. Defaults to true when no strategy or no explicit value is
// given.
func (j *Job) FailFast() bool {
	if j.Strategy == nil || j.Strategy.FailFast == nil {
		return true
	}
	return *j.Strategy.FailFast
}

// Strategy configures matrix expansion and cell scheduling for a job.
type Strategy struct {
	Matrix      *MatrixSpec `yaml:"matrix,omitempty" json:"matrix,omitempty"`
	FailFast    *bool       `yaml:"fail-fast,omitempty" json:"fail_fast,omitempty"`
	MaxParallel int         `yaml:"max-parallel,omitempty" json:"max_parallel,omitempty"`
}

// Axis is one named dimension of a matrix with its declared values.
type Axis struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// MatrixSpec is the matrix declaration of a job strategy. Axis declaration
// order is preserved from the YAML document; include and exclude entries are
// partial value assignments handled during expansion.
type MatrixSpec struct {
	Axes    []Axis           `json:"axes"`
	Include []map[string]any `json:"include,omitempty"`
	Exclude []map[string]any `json:"exclude,omitempty"`
}

// UnmarshalYAML decodes the matrix mapping, treating the reserved keys
// include and exclude specially and every other key as an axis.
func (m *MatrixSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping", value.Line)
	}
	seen := make(map[string]bool)
	for i := 0; i < len(value.Content)-1; i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		key := keyNode.Value
		if seen[key] {
			return fmt.Errorf("line %d: duplicate matrix key %q", keyNode.Line, key)
		}
		seen[key] = true

		switch key {
		case "include":
			if err := valNode.Decode(&m.Include); err != nil {
				return fmt.Errorf("line %d: matrix include: %w", valNode.Line, err)
			}
		case "exclude":
			if err := valNode.Decode(&m.Exclude); err != nil {
				return fmt.Errorf("line %d: matrix exclude: %w", valNode.Line, err)
			}
		default:
			if valNode.Kind != yaml.SequenceNode {
				return fmt.Errorf("line %d: matrix axis %q must be a list", valNode.Line, key)
			}
			var values []any
			if err := valNode.Decode(&values); err != nil {
				return fmt.Errorf("line %d: matrix axis %q: %w", valNode.Line, key, err)
			}
			m.Axes = append(m.Axes, Axis{Name: key, Values: values})
		}
	}
	return nil
}

// MarshalYAML renders the matrix back into its mapping form, axes first in
// declaration order.
func (m MatrixSpec) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	appendEntry := func(key string, val any) error {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
		valNode := &yaml.Node{}
		if err := valNode.Encode(val); err != nil {
			return err
		}
		root.Content = append(root.Content, keyNode, valNode)
		return nil
	}
	for _, axis := range m.Axes {
		if err := appendEntry(axis.Name, axis.Values); err != nil {
			return nil, err
		}
	}
	if len(m.Include) > 0 {
		if err := appendEntry("include", m.Include); err != nil {
			return nil, err
		}
	}
	if len(m.Exclude) > 0 {
		if err := appendEntry("exclude", m.Exclude); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// AxisNames returns the axis names in declaration order.
func (m *MatrixSpec) AxisNames() []string {
	names := make([]string, len(m.Axes))
	for i, a := range m.Axes {
		names[i] = a.Name
	}
	return names
}

// Step represents a single step of a job. Exactly one of Uses and Run must
// be set; the parser enforces this.
type Step struct {
	ID               string            `yaml:"id,omitempty" json:"id,omitempty"`
	Name             string            `yaml:"name,omitempty" json:"name,omitempty"`
	If               string            `yaml:"if,omitempty" json:"if,omitempty"`
	Uses             string            `yaml:"uses,omitempty" json:"uses,omitempty"`
	Run              string            `yaml:"run,omitempty" json:"run,omitempty"`
	Shell            string            `yaml:"shell,omitempty" json:"shell,omitempty"`
	WorkingDirectory string            `yaml:"working-directory,omitempty" json:"working_directory,omitempty"`
	With             StringMap         `yaml:"with,omitempty" json:"with,omitempty"`
	Env              StringMap         `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutMinutes   float64           `yaml:"timeout-minutes,omitempty" json:"timeout_minutes,omitempty"`
	ContinueOnError  bool              `yaml:"continue-on-error,omitempty" json:"continue_on_error,omitempty"`
	Outputs          map[string]string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// DisplayName returns the step name, falling back to the action reference or
// the first line of the run command.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	line := s.Run
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}

// Timeout returns the step timeout, zero when unset.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes * float64(time.Minute))
}
