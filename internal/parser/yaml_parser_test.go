package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

func TestParseCanonicalWorkflow(t *testing.T) {
	workflow, err := NewYAMLParser().ParseFile(filepath.Join("testdata", "ci.yml"))
	require.NoError(t, err)

	assert.Equal(t, "CI", workflow.Name)
	assert.Equal(t, filepath.Join("testdata", "ci.yml"), workflow.Source)
	assert.Equal(t, []string{"test", "coverage"}, workflow.JobOrder)

	require.NotNil(t, workflow.On.Push)
	assert.Equal(t, []string{"main", "*.x"}, workflow.On.Push.Branches)
	assert.Equal(t, []string{"*"}, workflow.On.Push.Tags)
	require.NotNil(t, workflow.On.PullRequest)
	require.Len(t, workflow.On.Schedule, 1)
	assert.Equal(t, "0 6 * * 1", workflow.On.Schedule[0].Cron)

	test := workflow.Jobs["test"]
	require.NotNil(t, test)
	assert.Equal(t, "test", test.ID)
	assert.Equal(t, "${{ matrix.os }}", test.RunsOn)
	require.NotNil(t, test.Strategy)
	assert.False(t, test.FailFast())
	require.NotNil(t, test.Strategy.Matrix)
	assert.Equal(t, []string{"python", "os", "numpy"}, test.Strategy.Matrix.AxisNames())
	require.Len(t, test.Strategy.Matrix.Exclude, 1)
	assert.Equal(t, map[string]any{"python": "3.10", "numpy": "1.20.*"}, test.Strategy.Matrix.Exclude[0])
	require.Len(t, test.Steps, 8)
	assert.Equal(t, "actions/checkout@v4", test.Steps[0].Uses)
	assert.Equal(t, "cache", test.Steps[2].ID)
	assert.Equal(t, "pip install \"numpy==${{ matrix.numpy }}\" pytest pytest-cov", test.Steps[3].Run)

	coverage := workflow.Jobs["coverage"]
	require.NotNil(t, coverage)
	assert.Equal(t, []string{"test"}, []string(coverage.Needs))
	assert.True(t, coverage.FailFast())
	assert.Equal(t, "${{ secrets.CODECOV_TOKEN }}", coverage.Env["CODECOV_TOKEN"])
	// YAML booleans in `with` decode to their literal spelling.
	assert.Equal(t, "true", coverage.Steps[1].With["fail-on-error"])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty document",
			yaml:    "",
			wantErr: "empty workflow document",
		},
		{
			name: "unknown top-level field",
			yaml: `
name: x
on: push
jobz:
  test:
    steps:
      - run: make
`,
			wantErr: "field jobz not found",
		},
		{
			name: "unknown job field",
			yaml: `
name: x
on: push
jobs:
  test:
    run-on: ubuntu-latest
    steps:
      - run: make
`,
			wantErr: "field run-on not found",
		},
		{
			name: "unknown step field",
			yaml: `
name: x
on: push
jobs:
  test:
    steps:
      - runs: make
`,
			wantErr: "field runs not found",
		},
		{
			name: "duplicate job id",
			yaml: `
name: x
on: push
jobs:
  test:
    steps:
      - run: make
  test:
    steps:
      - run: make
`,
			wantErr: "already defined",
		},
		{
			name: "missing name",
			yaml: `
on: push
jobs:
  test:
    steps:
      - run: make
`,
			wantErr: "workflow name is required",
		},
		{
			name: "no triggers",
			yaml: `
name: x
jobs:
  test:
    steps:
      - run: make
`,
			wantErr: "at least one trigger",
		},
		{
			name: "unknown trigger event",
			yaml: `
name: x
on: [push, release]
jobs:
  test:
    steps:
      - run: make
`,
			wantErr: `unknown trigger event "release"`,
		},
		{
			name: "unknown trigger field",
			yaml: `
name: x
on:
  push:
    branch: [main]
jobs:
  test:
    steps:
      - run: make
`,
			wantErr: `unknown push trigger field "branch"`,
		},
		{
			name: "invalid cron",
			yaml: `
name: x
on:
  schedule:
    - cron: "0 6 * *"
jobs:
  test:
    steps:
      - run: make
`,
			wantErr: "invalid cron expression",
		},
		{
			name: "no jobs",
			yaml: `
name: x
on: push
jobs: {}
`,
			wantErr: "at least one job",
		},
		{
			name: "invalid job id",
			yaml: `
name: x
on: push
jobs:
  2fast:
    steps:
      - run: make
`,
			wantErr: "invalid job id",
		},
		{
			name: "unknown needs target",
			yaml: `
name: x
on: push
jobs:
  coverage:
    needs: test
    steps:
      - run: make
`,
			wantErr: "unknown job: test",
		},
		{
			name: "job needs itself",
			yaml: `
name: x
on: push
jobs:
  test:
    needs: [test]
    steps:
      - run: make
`,
			wantErr: "cannot need itself",
		},
		{
			name: "dependency cycle",
			yaml: `
name: x
on: push
jobs:
  a:
    needs: [b]
    steps:
      - run: make
  b:
    needs: [c]
    steps:
      - run: make
  c:
    needs: [a]
    steps:
      - run: make
`,
			wantErr: "dependency cycle",
		},
		{
			name: "job without steps",
			yaml: `
name: x
on: push
jobs:
  test:
    runs-on: ubuntu-latest
`,
			wantErr: "at least one step",
		},
		{
			name: "step with run and uses",
			yaml: `
name: x
on: push
jobs:
  test:
    steps:
      - uses: actions/checkout@v4
        run: make
`,
			wantErr: "exactly one of 'run' and 'uses'",
		},
		{
			name: "step with neither run nor uses",
			yaml: `
name: x
on: push
jobs:
  test:
    steps:
      - name: idle
`,
			wantErr: "exactly one of 'run' and 'uses'",
		},
		{
			name: "duplicate step id",
			yaml: `
name: x
on: push
jobs:
  test:
    steps:
      - id: build
        run: make
      - id: build
        run: make check
`,
			wantErr: "duplicate step id",
		},
		{
			name: "outputs on uses step",
			yaml: `
name: x
on: push
jobs:
  test:
    steps:
      - uses: actions/checkout@v4
        outputs:
          sha: $.sha
`,
			wantErr: "declarative outputs apply to run steps only",
		},
		{
			name: "negative max-parallel",
			yaml: `
name: x
on: push
jobs:
  test:
    strategy:
      max-parallel: -1
    steps:
      - run: make
`,
			wantErr: "max-parallel must not be negative",
		},
		{
			name: "negative timeout",
			yaml: `
name: x
on: push
jobs:
  test:
    timeout-minutes: -5
    steps:
      - run: make
`,
			wantErr: "timeout must not be negative",
		},
		{
			name: "matrix axis not a list",
			yaml: `
name: x
on: push
jobs:
  test:
    strategy:
      matrix:
        python: "3.10"
    steps:
      - run: make
`,
			wantErr: `matrix axis "python" must be a list`,
		},
		{
			name: "exclude names unknown axis",
			yaml: `
name: x
on: push
jobs:
  test:
    strategy:
      matrix:
        python: ["3.10"]
        exclude:
          - numpy: "1.20.*"
    steps:
      - run: make
`,
			wantErr: "unknown axis",
		},
		{
			name: "include introduces reserved key",
			yaml: `
name: x
on: push
jobs:
  test:
    strategy:
      matrix:
        python: ["3.10"]
        include:
          - python: "3.11"
            exclude: "yes"
    steps:
      - run: make
`,
			wantErr: "reserved matrix key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLParser().Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseErrorLocation(t *testing.T) {
	_, err := NewYAMLParser().Parse([]byte("name: x\non: push\njobs: [\n"))
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Greater(t, parseErr.Line, 0)
}

func TestValidationErrorField(t *testing.T) {
	_, err := NewYAMLParser().Parse([]byte(`
name: x
on: push
jobs:
  test:
    needs: [missing]
    steps:
      - run: make
`))
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "jobs.test.needs", validationErr.Field)
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()

	good := `
name: good
on: push
jobs:
  test:
    steps:
      - run: make
`
	bad := `
name: bad
on: push
jobs: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-good.yml"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-bad.yaml"), []byte(bad), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0o644))

	workflows, errs := NewYAMLParser().ParseDir(dir)
	require.Len(t, workflows, 1)
	assert.Equal(t, "good", workflows[0].Name)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "a-bad.yaml")
}

func TestParseDirMissing(t *testing.T) {
	workflows, errs := NewYAMLParser().ParseDir(filepath.Join(t.TempDir(), "absent"))
	assert.Empty(t, workflows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "failed to read workflow directory")
}

func TestJobOrderFallback(t *testing.T) {
	workflow := &types.Workflow{
		Name: "x",
		Jobs: map[string]*types.Job{
			"b": {ID: "b", Steps: []*types.Step{{Run: "make"}}},
			"a": {ID: "a", Steps: []*types.Step{{Run: "make"}}},
		},
	}
	jobs := workflow.OrderedJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)
}
