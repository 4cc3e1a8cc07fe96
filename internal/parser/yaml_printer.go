package parser

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// YAMLPrinter implements the Printer interface for YAML workflow definitions.
// The output is normalized: top-level keys in schema order and jobs in
// declaration order.
type YAMLPrinter struct {
	indent int // Number of spaces for indentation
}

// NewYAMLPrinter creates a new YAMLPrinter with default settings.
func NewYAMLPrinter() *YAMLPrinter {
	return &YAMLPrinter{
		indent: 2,
	}
}

// WithIndent sets the indentation level.
func (p *YAMLPrinter) WithIndent(spaces int) *YAMLPrinter {
	p.indent = spaces
	return p
}

// Print serializes a workflow to YAML bytes.
func (p *YAMLPrinter) Print(workflow *types.Workflow) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Fprint(&buf, workflow); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Fprint writes the normalized workflow document to w.
func (p *YAMLPrinter) Fprint(w io.Writer, workflow *types.Workflow) error {
	var root yaml.Node
	if err := root.Encode(workflow); err != nil {
		return NewParseError(0, 0, "failed to encode workflow to YAML", err)
	}
	reorderJobs(&root, workflow.JobOrder)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(p.indent)

	if err := encoder.Encode(&root); err != nil {
		return NewParseError(0, 0, "failed to encode workflow to YAML", err)
	}
	if err := encoder.Close(); err != nil {
		return NewParseError(0, 0, "failed to close YAML encoder", err)
	}
	return nil
}

// PrintToFile serializes a workflow to a YAML file.
func (p *YAMLPrinter) PrintToFile(workflow *types.Workflow, path string) error {
	data, err := p.Print(workflow)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return NewParseError(0, 0, "failed to write file: "+path, err)
	}

	return nil
}

// reorderJobs rewrites the jobs mapping into declaration order. The encoder
// sorts map keys, which loses the order the workflow author chose.
func reorderJobs(root *yaml.Node, order []string) {
	if len(order) == 0 || root.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i < len(root.Content)-1; i += 2 {
		if root.Content[i].Value != "jobs" {
			continue
		}
		jobs := root.Content[i+1]
		if jobs.Kind != yaml.MappingNode || len(jobs.Content) != len(order)*2 {
			return
		}
		byID := make(map[string][2]*yaml.Node, len(order))
		for j := 0; j < len(jobs.Content)-1; j += 2 {
			byID[jobs.Content[j].Value] = [2]*yaml.Node{jobs.Content[j], jobs.Content[j+1]}
		}
		content := make([]*yaml.Node, 0, len(jobs.Content))
		for _, id := range order {
			pair, ok := byID[id]
			if !ok {
				return
			}
			content = append(content, pair[0], pair[1])
		}
		jobs.Content = content
		return
	}
}
