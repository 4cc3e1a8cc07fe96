// Package parser provides workflow file parsing, validation and
// serialization.
package parser

import (
	"io"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// Parser defines the interface for parsing workflow definitions.
type Parser interface {
	// Parse parses a workflow definition from bytes.
	Parse(data []byte) (*types.Workflow, error)

	// ParseFile parses a workflow definition from a file.
	ParseFile(path string) (*types.Workflow, error)
}

// Printer defines the interface for serializing workflow definitions.
type Printer interface {
	// Print serializes a workflow to bytes.
	Print(workflow *types.Workflow) ([]byte, error)

	// Fprint writes the normalized workflow document to w.
	Fprint(w io.Writer, workflow *types.Workflow) error
}
