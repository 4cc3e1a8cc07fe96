package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

func concludedRun(c types.Conclusion) *types.JobRun {
	return &types.JobRun{Status: types.StatusCompleted, Conclusion: c}
}

func TestGroupConclusion(t *testing.T) {
	cases := []struct {
		name string
		in   []types.Conclusion
		want types.Conclusion
	}{
		{"all success", []types.Conclusion{types.ConclusionSuccess, types.ConclusionSuccess}, types.ConclusionSuccess},
		{"failure wins", []types.Conclusion{types.ConclusionSuccess, types.ConclusionFailure, types.ConclusionCancelled}, types.ConclusionFailure},
		{"cancelled beats success", []types.Conclusion{types.ConclusionSuccess, types.ConclusionCancelled}, types.ConclusionCancelled},
		{"all skipped", []types.Conclusion{types.ConclusionSkipped, types.ConclusionSkipped}, types.ConclusionSkipped},
		{"skipped cell does not taint", []types.Conclusion{types.ConclusionSkipped, types.ConclusionSuccess}, types.ConclusionSuccess},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs := make([]*types.JobRun, len(tc.in))
			for i, c := range tc.in {
				runs[i] = concludedRun(c)
			}
			assert.Equal(t, tc.want, groupConclusion(runs))
		})
	}
}

func TestNewJobGroupWithoutMatrix(t *testing.T) {
	job := &types.Job{ID: "build", Steps: []*types.Step{{Run: "ok"}}}

	g, err := newJobGroup(job, nil)
	require.NoError(t, err)

	assert.True(t, g.failFast, "fail-fast defaults to true")
	assert.Zero(t, g.parallel)
	require.Len(t, g.cells, 1)
	require.Len(t, g.runs, 1)

	jr := g.runs[0]
	assert.NotEmpty(t, jr.ID)
	assert.Equal(t, "build", jr.JobID)
	assert.Equal(t, "build", jr.Name)
	assert.Equal(t, types.StatusQueued, jr.Status)
	assert.Nil(t, jr.Matrix)
}

func TestNewJobGroupExpandsMatrix(t *testing.T) {
	job := &types.Job{
		ID:   "test",
		Name: "Unit tests",
		Strategy: &types.Strategy{
			Matrix: &types.MatrixSpec{
				Axes: []types.Axis{
					{Name: "os", Values: []any{"linux", "darwin"}},
					{Name: "go", Values: []any{"1.21", "1.22"}},
				},
			},
			MaxParallel: 2,
		},
		Steps: []*types.Step{{Run: "ok"}},
	}

	g, err := newJobGroup(job, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, g.parallel)
	require.Len(t, g.runs, 4)

	var names []string
	for _, jr := range g.runs {
		names = append(names, jr.Name)
		assert.Equal(t, "test", jr.JobID)
		require.NotNil(t, jr.Matrix)
	}
	assert.ElementsMatch(t, []string{
		"Unit tests (linux, 1.21)",
		"Unit tests (linux, 1.22)",
		"Unit tests (darwin, 1.21)",
		"Unit tests (darwin, 1.22)",
	}, names)
}

func TestNewJobGroupFailFastOverride(t *testing.T) {
	on := true
	off := false

	job := &types.Job{ID: "a", Steps: []*types.Step{{Run: "ok"}}}
	g, err := newJobGroup(job, &off)
	require.NoError(t, err)
	assert.False(t, g.failFast)

	declaredOff := &types.Job{
		ID:       "b",
		Strategy: &types.Strategy{FailFast: &off},
		Steps:    []*types.Step{{Run: "ok"}},
	}
	g, err = newJobGroup(declaredOff, &on)
	require.NoError(t, err)
	assert.True(t, g.failFast, "the override beats the declared value")
}

func TestNewJobGroupOversizedMatrix(t *testing.T) {
	values := make([]any, 300)
	for i := range values {
		values[i] = i
	}
	job := &types.Job{
		ID: "test",
		Strategy: &types.Strategy{Matrix: &types.MatrixSpec{
			Axes: []types.Axis{{Name: "n", Values: values}},
		}},
	}

	_, err := newJobGroup(job, nil)
	require.Error(t, err)
}

func TestNeedsContextLastSuccessfulCellWins(t *testing.T) {
	job := &types.Job{ID: "test"}
	g := &jobGroup{job: job, runs: []*types.JobRun{
		{JobID: "test", Conclusion: types.ConclusionSuccess, Outputs: map[string]string{"artifact": "one"}},
		{JobID: "test", Conclusion: types.ConclusionFailure, Outputs: map[string]string{"artifact": "broken"}},
		{JobID: "test", Conclusion: types.ConclusionSuccess, Outputs: map[string]string{"artifact": "two"}},
	}}
	s := newScheduler([]*jobGroup{g}, 1)

	needs := s.needsContext([]string{"test"})
	require.Contains(t, needs, "test")
	need := needs["test"].(map[string]any)

	assert.Equal(t, "failure", need["result"])
	outputs := need["outputs"].(map[string]any)
	assert.Equal(t, "two", outputs["artifact"], "failed cells contribute no outputs")
}
