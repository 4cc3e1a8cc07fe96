package reporter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

func TestJSONReporterWritesReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	r := NewJSONReporter(&JSONConfig{Path: path, Pretty: true})

	ctx := context.Background()
	require.NoError(t, r.Init(ctx, nil))
	require.NoError(t, r.Report(ctx, sampleReport()))
	require.NoError(t, r.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n"))

	var got types.RunReport
	require.NoError(t, jsonutil.Unmarshal(data, &got))
	assert.Equal(t, "CI", got.WorkflowName)
	require.Len(t, got.StepTimings, 2)
	assert.Equal(t, "Run tests", got.StepTimings[0].Step)
	assert.InDelta(t, 38000, got.StepTimings[0].P50Ms, 0.1)

	// No stray temp file after the rename.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestJSONReporterLastReportWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r := NewJSONReporter(&JSONConfig{Path: path})

	ctx := context.Background()
	require.NoError(t, r.Init(ctx, nil))

	first := sampleReport()
	first.RunID = "run-1"
	require.NoError(t, r.Report(ctx, first))

	second := sampleReport()
	second.RunID = "run-2"
	require.NoError(t, r.Report(ctx, second))
	require.NoError(t, r.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got types.RunReport
	require.NoError(t, jsonutil.Unmarshal(data, &got))
	assert.Equal(t, "run-2", got.RunID)
}

func TestJSONReporterRequiresPath(t *testing.T) {
	r := NewJSONReporter(&JSONConfig{})
	err := r.Init(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a path")
}
