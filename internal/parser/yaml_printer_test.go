package parser

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

func TestPrintNormalizedRoundTrip(t *testing.T) {
	parser := NewYAMLParser()
	printer := NewYAMLPrinter()

	workflow, err := parser.ParseFile(filepath.Join("testdata", "ci.yml"))
	require.NoError(t, err)

	data, err := printer.Print(workflow)
	require.NoError(t, err)

	reparsed, err := parser.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, workflow.Name, reparsed.Name)
	assert.Equal(t, workflow.JobOrder, reparsed.JobOrder)
	assert.Equal(t, workflow.On.Push.Branches, reparsed.On.Push.Branches)
	assert.Equal(t, workflow.On.Schedule, reparsed.On.Schedule)
	require.Contains(t, reparsed.Jobs, "test")
	assert.Equal(t,
		workflow.Jobs["test"].Strategy.Matrix.AxisNames(),
		reparsed.Jobs["test"].Strategy.Matrix.AxisNames())
	assert.Len(t, reparsed.Jobs["test"].Steps, len(workflow.Jobs["test"].Steps))
	assert.Equal(t, workflow.Jobs["coverage"].Needs, reparsed.Jobs["coverage"].Needs)
}

func TestPrintKeepsJobOrder(t *testing.T) {
	parser := NewYAMLParser()

	workflow, err := parser.ParseFile(filepath.Join("testdata", "ci.yml"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewYAMLPrinter().Fprint(&buf, workflow))

	out := buf.String()
	testIdx := strings.Index(out, "\n  test:")
	coverageIdx := strings.Index(out, "\n  coverage:")
	require.Positive(t, testIdx)
	require.Positive(t, coverageIdx)
	assert.Less(t, testIdx, coverageIdx, "jobs must keep declaration order:\n%s", out)
}

func TestPrintToFile(t *testing.T) {
	workflow := &types.Workflow{
		Name: "minimal",
		On:   types.Triggers{Push: &types.RefTrigger{Branches: []string{"main"}}},
		Jobs: map[string]*types.Job{
			"test": {ID: "test", Steps: []*types.Step{{Run: "make check"}}},
		},
	}

	path := filepath.Join(t.TempDir(), "out.yml")
	require.NoError(t, NewYAMLPrinter().PrintToFile(workflow, path))

	reparsed, err := NewYAMLParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", reparsed.Name)
	assert.Equal(t, "make check", reparsed.Jobs["test"].Steps[0].Run)
}

func TestPrintIndent(t *testing.T) {
	workflow := &types.Workflow{
		Name: "indent",
		On:   types.Triggers{Push: &types.RefTrigger{}},
		Jobs: map[string]*types.Job{
			"test": {ID: "test", Steps: []*types.Step{{Run: "make"}}},
		},
	}

	data, err := NewYAMLPrinter().WithIndent(4).Print(workflow)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    test:")
}
