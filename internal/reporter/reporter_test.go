package reporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zacharyburnett/matrixci/internal/jsonutil"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

func sampleReport() *types.RunReport {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &types.RunReport{
		RunID:        "run-42",
		WorkflowName: "CI",
		WorkflowFile: "ci.yaml",
		Event: &types.Event{
			Type:  types.EventPush,
			Ref:   "refs/heads/main",
			SHA:   "0123456789abcdef",
			Actor: "octocat",
		},
		Status:     types.StatusCompleted,
		Conclusion: types.ConclusionFailure,
		StartedAt:  started,
		FinishedAt: started.Add(95 * time.Second),
		DurationMs: 95000,
		Jobs: []*types.JobReport{
			{
				JobID:      "build",
				Name:       "build (1.21)",
				Matrix:     map[string]any{"go": "1.21"},
				Conclusion: types.ConclusionSuccess,
				DurationMs: 42000,
				Steps: []*types.StepReport{
					{Name: "Checkout", Conclusion: types.ConclusionSuccess, DurationMs: 400},
					{Name: "Run tests", Conclusion: types.ConclusionSuccess, DurationMs: 41000},
				},
			},
			{
				JobID:      "build",
				Name:       "build (1.22)",
				Matrix:     map[string]any{"go": "1.22"},
				Conclusion: types.ConclusionFailure,
				DurationMs: 39000,
				Steps: []*types.StepReport{
					{Name: "Checkout", Conclusion: types.ConclusionSuccess, DurationMs: 350},
					{
						Name:       "Run tests",
						Conclusion: types.ConclusionFailure,
						ExitCode:   2,
						DurationMs: 38000,
						Error:      "step failed with exit code 2",
						LogTail:    []string{"--- FAIL: TestParse", "FAIL", "exit status 2"},
					},
				},
			},
		},
		StepTimings: []*types.StepTimingStats{
			{
				Step:  "Run tests",
				Count: 2,
				DurationStats: types.DurationStats{
					MinMs: 38000, MaxMs: 41000, MeanMs: 39500,
					P50Ms: 38000, P90Ms: 41000, P95Ms: 41000, P99Ms: 41000,
				},
			},
			{Step: "Checkout", Count: 2, DurationStats: types.DurationStats{MinMs: 350, MaxMs: 400, P50Ms: 350, P95Ms: 400}},
		},
		Totals: types.ReportTotals{
			Jobs: 2, JobsSucceeded: 1, JobsFailed: 1,
			Steps: 4, StepsSucceeded: 3, StepsFailed: 1,
			CacheHits: 1, CacheMisses: 1,
		},
	}
}

type recordingReporter struct {
	name    string
	reports []*types.RunReport
	closed  bool
	fail    bool
}

func (r *recordingReporter) Name() string { return r.name }

func (r *recordingReporter) Init(ctx context.Context, config map[string]any) error { return nil }

func (r *recordingReporter) Report(ctx context.Context, report *types.RunReport) error {
	if r.fail {
		return fmt.Errorf("boom")
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingReporter) Flush(ctx context.Context) error { return nil }

func (r *recordingReporter) Close(ctx context.Context) error {
	r.closed = true
	return nil
}

func TestRegistryRegisterAndCreate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Type("custom"), func(config map[string]any) (Reporter, error) {
		return &recordingReporter{name: "custom"}, nil
	}))

	assert.True(t, reg.Has(Type("custom")))
	assert.False(t, reg.Has(TypeConsole))

	r, err := reg.Create(Type("custom"), nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", r.Name())

	err = reg.Register(Type("custom"), func(config map[string]any) (Reporter, error) { return nil, nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryCreateUnknown(t *testing.T) {
	reg := NewDefaultRegistry()
	_, err := reg.Create(Type("carrier-pigeon"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reporter type")
	assert.Contains(t, err.Error(), "console, json, webhook")
}

func TestDefaultRegistryTypes(t *testing.T) {
	reg := NewDefaultRegistry()
	assert.Equal(t, []Type{TypeConsole, TypeJSON, TypeWebhook}, reg.Types())
}

func TestParseOutputSpec(t *testing.T) {
	tests := []struct {
		spec     string
		wantType Type
		wantKey  string
		wantVal  string
		wantErr  string
	}{
		{spec: "console", wantType: TypeConsole},
		{spec: "json=out/report.json", wantType: TypeJSON, wantKey: "path", wantVal: "out/report.json"},
		{spec: "webhook=https://ci.example.com/hook", wantType: TypeWebhook, wantKey: "url", wantVal: "https://ci.example.com/hook"},
		{spec: "json=", wantErr: "expected json=PATH"},
		{spec: "webhook", wantErr: "expected webhook=URL"},
		{spec: "console=yes", wantErr: "takes no argument"},
		{spec: "xml=report.xml", wantErr: "unknown output type"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			spec, err := ParseOutputSpec(tt.spec)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, spec.Type)
			if tt.wantKey != "" {
				assert.Equal(t, tt.wantVal, spec.Config[tt.wantKey])
			}
		})
	}
}

func TestManagerFanOut(t *testing.T) {
	m := NewManager(nil)
	a := &recordingReporter{name: "a"}
	b := &recordingReporter{name: "b"}
	m.Add(a)
	m.Add(b)
	require.Equal(t, 2, m.Count())

	report := sampleReport()
	require.NoError(t, m.Report(context.Background(), report))
	require.Len(t, a.reports, 1)
	require.Len(t, b.reports, 1)
	assert.Same(t, report, a.reports[0])

	require.NoError(t, m.Close(context.Background()))
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Zero(t, m.Count())
}

func TestManagerCollectsErrors(t *testing.T) {
	m := NewManager(nil)
	m.Add(&recordingReporter{name: "ok"})
	m.Add(&recordingReporter{name: "bad", fail: true})

	err := m.Report(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.NotContains(t, err.Error(), "ok:")
}

func TestManagerAddSpecJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	m := NewManager(nil)

	spec, err := ParseOutputSpec("json=" + path)
	require.NoError(t, err)
	require.NoError(t, m.AddSpec(context.Background(), spec))

	require.NoError(t, m.Report(context.Background(), sampleReport()))
	require.NoError(t, m.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got types.RunReport
	require.NoError(t, jsonutil.Unmarshal(data, &got))
	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, types.ConclusionFailure, got.Conclusion)
	require.Len(t, got.Jobs, 2)
	assert.Equal(t, "build (1.22)", got.Jobs[1].Name)
}
