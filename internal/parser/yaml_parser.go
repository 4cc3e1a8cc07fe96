package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zacharyburnett/matrixci/internal/event"
	"github.com/zacharyburnett/matrixci/internal/matrix"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// identifierPattern matches job ids, step ids and matrix axis names.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// reservedMatrixKeys may not be introduced as axis names by include or
// exclude entries.
var reservedMatrixKeys = map[string]bool{"include": true, "exclude": true}

// YAMLParser implements the Parser interface for YAML workflow definitions.
type YAMLParser struct{}

// NewYAMLParser creates a new YAMLParser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

// Parse parses a workflow definition from bytes.
func (p *YAMLParser) Parse(data []byte) (*types.Workflow, error) {
	var workflow types.Workflow

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict mode: error on unknown fields

	if err := decoder.Decode(&workflow); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewParseError(0, 0, "empty workflow document", err)
		}
		return nil, p.wrapYAMLError(err, data)
	}

	// The typed decode loses mapping order; recover it from the node tree.
	workflow.JobOrder = jobOrder(data)
	for id, job := range workflow.Jobs {
		if job == nil {
			return nil, NewValidationError("jobs."+id, "job definition is empty")
		}
		job.ID = id
	}

	if err := p.validate(&workflow); err != nil {
		return nil, err
	}

	return &workflow, nil
}

// ParseFile parses a workflow definition from a file.
func (p *YAMLParser) ParseFile(path string) (*types.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewParseError(0, 0, fmt.Sprintf("failed to read file: %s", path), err)
	}
	workflow, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	workflow.Source = path
	return workflow, nil
}

// ParseDir parses every *.yml and *.yaml file in dir, sorted by name.
// Files that fail to parse are reported in the returned error list without
// aborting the remaining files.
func (p *YAMLParser) ParseDir(dir string) ([]*types.Workflow, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read workflow directory %s: %w", dir, err)}
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yml" || ext == ".yaml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var workflows []*types.Workflow
	var errs []error
	for _, name := range names {
		workflow, err := p.ParseFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		workflows = append(workflows, workflow)
	}
	return workflows, errs
}

// jobOrder extracts the declaration order of the jobs mapping from the raw
// document.
func jobOrder(data []byte) []string {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value != "jobs" {
			continue
		}
		jobs := root.Content[i+1]
		if jobs.Kind != yaml.MappingNode {
			return nil
		}
		order := make([]string, 0, len(jobs.Content)/2)
		for j := 0; j < len(jobs.Content)-1; j += 2 {
			order = append(order, jobs.Content[j].Value)
		}
		return order
	}
	return nil
}

// wrapYAMLError converts a YAML error to a ParseError with line information.
func (p *YAMLParser) wrapYAMLError(err error, data []byte) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	line, column := extractLineColumn(errStr)
	message := cleanYAMLErrorMessage(errStr)

	return NewParseError(line, column, message, err)
}

// extractLineColumn attempts to extract line and column from a YAML error
// message.
func extractLineColumn(errStr string) (int, int) {
	var line, column int

	if idx := strings.Index(errStr, "line "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "line %d", &line)
	}
	if idx := strings.Index(errStr, "column "); idx != -1 {
		fmt.Sscanf(errStr[idx:], "column %d", &column)
	}

	return line, column
}

// cleanYAMLErrorMessage creates a cleaner error message.
func cleanYAMLErrorMessage(errStr string) string {
	errStr = strings.TrimPrefix(errStr, "yaml: ")

	if len(errStr) > 0 {
		errStr = strings.ToUpper(errStr[:1]) + errStr[1:]
	}

	return errStr
}

// validate validates a parsed workflow.
func (p *YAMLParser) validate(workflow *types.Workflow) error {
	if workflow.Name == "" {
		return NewValidationError("name", "workflow name is required")
	}

	if workflow.On.Empty() {
		return NewValidationError("on", "workflow must declare at least one trigger")
	}

	for i, st := range workflow.On.Schedule {
		if err := event.ValidateCron(st.Cron); err != nil {
			return NewValidationError(fmt.Sprintf("on.schedule[%d].cron", i), err.Error())
		}
	}

	if len(workflow.Jobs) == 0 {
		return NewValidationError("jobs", "workflow must have at least one job")
	}

	for _, job := range workflow.OrderedJobs() {
		if err := p.validateJob(workflow, job); err != nil {
			return err
		}
	}

	if err := p.checkCycles(workflow); err != nil {
		return err
	}

	return nil
}

// validateJob validates a single job.
func (p *YAMLParser) validateJob(workflow *types.Workflow, job *types.Job) error {
	path := "jobs." + job.ID

	if !identifierPattern.MatchString(job.ID) {
		return NewValidationError(path, fmt.Sprintf("invalid job id: %s", job.ID))
	}

	for _, need := range job.Needs {
		if need == job.ID {
			return NewValidationError(path+".needs", fmt.Sprintf("job %s cannot need itself", job.ID))
		}
		if _, ok := workflow.Jobs[need]; !ok {
			return NewValidationError(path+".needs", fmt.Sprintf("unknown job: %s", need))
		}
	}

	if job.TimeoutMinutes < 0 {
		return NewValidationError(path+".timeout-minutes", "timeout must not be negative")
	}

	if job.Strategy != nil {
		if err := p.validateStrategy(job.Strategy, path+".strategy"); err != nil {
			return err
		}
	}

	if len(job.Steps) == 0 {
		return NewValidationError(path+".steps", "job must have at least one step")
	}

	stepIDs := make(map[string]bool)
	for i, step := range job.Steps {
		if err := p.validateStep(step, stepIDs, fmt.Sprintf("%s.steps[%d]", path, i)); err != nil {
			return err
		}
	}

	return nil
}

// validateStrategy validates a job strategy block.
func (p *YAMLParser) validateStrategy(strategy *types.Strategy, path string) error {
	if strategy.MaxParallel < 0 {
		return NewValidationError(path+".max-parallel", "max-parallel must not be negative")
	}

	spec := strategy.Matrix
	if spec == nil {
		return nil
	}

	for _, axis := range spec.Axes {
		if !identifierPattern.MatchString(axis.Name) {
			return NewValidationError(path+".matrix", fmt.Sprintf("invalid axis name: %s", axis.Name))
		}
	}
	for i, entry := range spec.Include {
		if err := checkMatrixEntryKeys(entry, fmt.Sprintf("%s.matrix.include[%d]", path, i)); err != nil {
			return err
		}
	}
	for i, entry := range spec.Exclude {
		if err := checkMatrixEntryKeys(entry, fmt.Sprintf("%s.matrix.exclude[%d]", path, i)); err != nil {
			return err
		}
	}

	// Expand once to surface empty axes, excludes naming unknown axes and
	// oversized cross products at parse time.
	if _, err := matrix.Expand(spec); err != nil {
		return NewValidationError(path+".matrix", err.Error())
	}

	return nil
}

// checkMatrixEntryKeys validates the keys of one include or exclude entry.
func checkMatrixEntryKeys(entry map[string]any, path string) error {
	for key := range entry {
		if reservedMatrixKeys[key] {
			return NewValidationError(path, fmt.Sprintf("reserved matrix key: %s", key))
		}
		if !identifierPattern.MatchString(key) {
			return NewValidationError(path, fmt.Sprintf("invalid axis name: %s", key))
		}
	}
	return nil
}

// validateStep validates a single step.
func (p *YAMLParser) validateStep(step *types.Step, stepIDs map[string]bool, path string) error {
	if step.ID != "" {
		if !identifierPattern.MatchString(step.ID) {
			return NewValidationError(path+".id", fmt.Sprintf("invalid step id: %s", step.ID))
		}
		if stepIDs[step.ID] {
			return NewValidationError(path+".id", fmt.Sprintf("duplicate step id: %s", step.ID))
		}
		stepIDs[step.ID] = true
	}

	hasRun := step.Run != ""
	hasUses := step.Uses != ""
	if hasRun == hasUses {
		return NewValidationError(path, "step must have exactly one of 'run' and 'uses'")
	}

	if hasUses && len(step.Outputs) > 0 {
		return NewValidationError(path+".outputs", "declarative outputs apply to run steps only")
	}

	if step.TimeoutMinutes < 0 {
		return NewValidationError(path+".timeout-minutes", "timeout must not be negative")
	}

	return nil
}

// checkCycles verifies that the needs graph is acyclic using a three-color
// depth-first search.
func (p *YAMLParser) checkCycles(workflow *types.Workflow) error {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)

	color := make(map[string]int, len(workflow.Jobs))

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch color[id] {
		case gray:
			cycle := append(trail, id)
			return NewValidationError("jobs."+id+".needs",
				fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
		case black:
			return nil
		}
		color[id] = gray
		for _, need := range workflow.Jobs[id].Needs {
			if err := visit(need, append(trail, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, job := range workflow.OrderedJobs() {
		if err := visit(job.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
