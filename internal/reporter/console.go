package reporter

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// failureTailLines bounds the log excerpt printed for a failed step.
const failureTailLines = 10

// ConsoleConfig holds configuration for the console reporter.
type ConsoleConfig struct {
	// Color enables ANSI colored output.
	Color bool `yaml:"color"`
	// Verbose prints the per-step table for every job.
	Verbose bool `yaml:"verbose"`
	// Writer is the output writer (defaults to os.Stdout).
	Writer io.Writer `yaml:"-"`
}

// DefaultConsoleConfig returns the default console reporter configuration.
func DefaultConsoleConfig() *ConsoleConfig {
	return &ConsoleConfig{
		Color:  true,
		Writer: os.Stdout,
	}
}

// ConsoleReporter prints a human readable run summary.
type ConsoleReporter struct {
	config *ConsoleConfig
	writer io.Writer

	mu          sync.Mutex
	initialized bool
}

// NewConsoleReporter creates a console reporter.
func NewConsoleReporter(config *ConsoleConfig) *ConsoleReporter {
	if config == nil {
		config = DefaultConsoleConfig()
	}
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	return &ConsoleReporter{config: config, writer: config.Writer}
}

// NewConsoleFactory returns the factory for console reporters.
func NewConsoleFactory() Factory {
	return func(config map[string]any) (Reporter, error) {
		cfg := DefaultConsoleConfig()
		if config != nil {
			if v, ok := config["color"].(bool); ok {
				cfg.Color = v
			}
			if v, ok := config["verbose"].(bool); ok {
				cfg.Verbose = v
			}
			if v, ok := config["writer"].(io.Writer); ok {
				cfg.Writer = v
			}
		}
		return NewConsoleReporter(cfg), nil
	}
}

// Name returns the reporter name.
func (r *ConsoleReporter) Name() string {
	return string(TypeConsole)
}

// Init initializes the reporter.
func (r *ConsoleReporter) Init(ctx context.Context, config map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("reporter already initialized")
	}
	r.initialized = true
	return nil
}

// Report prints the run summary.
func (r *ConsoleReporter) Report(ctx context.Context, report *types.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("reporter not initialized")
	}

	r.printHeader(report)
	r.printJobs(report)
	if r.config.Verbose {
		r.printSteps(report)
	}
	r.printTimings(report)
	r.printCounters(report)
	r.printFailures(report)
	r.printFooter(report)
	return nil
}

// Flush flushes any buffered output.
func (r *ConsoleReporter) Flush(ctx context.Context) error {
	// Console output is unbuffered, nothing to flush
	return nil
}

// Close closes the reporter.
func (r *ConsoleReporter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = false
	return nil
}

func (r *ConsoleReporter) printHeader(report *types.RunReport) {
	r.writeLine("")
	r.writeLine(r.colorize(fmt.Sprintf("=== run %s ===", report.RunID), colorCyan))

	wf := report.WorkflowName
	if report.WorkflowFile != "" {
		wf += fmt.Sprintf(" (%s)", report.WorkflowFile)
	}
	r.writeLine("Workflow: " + wf)

	if ev := report.Event; ev != nil {
		line := fmt.Sprintf("Event: %s", ev.Type)
		if ev.Ref != "" {
			line += " " + ev.Ref
		}
		if ev.SHA != "" {
			line += " @ " + shortSHA(ev.SHA)
		}
		if ev.Actor != "" {
			line += " by " + ev.Actor
		}
		r.writeLine(line)
	}

	r.writeLine(fmt.Sprintf("Conclusion: %s | Duration: %s",
		r.colorizeConclusion(report.Conclusion),
		formatDurationMs(report.DurationMs),
	))
	if report.Error != "" {
		r.writeLine("Error: " + report.Error)
	}
}

func (r *ConsoleReporter) printJobs(report *types.RunReport) {
	if len(report.Jobs) == 0 {
		return
	}

	width := 0
	for _, job := range report.Jobs {
		if len(job.Name) > width {
			width = len(job.Name)
		}
	}

	r.writeLine("")
	r.writeLine(r.colorize("Jobs:", colorYellow))
	for _, job := range report.Jobs {
		// Pad before colorizing so ANSI escapes do not break alignment.
		cell := r.colorize(fmt.Sprintf("%-9s", job.Conclusion), r.colorFor(job.Conclusion))
		r.writeLine(fmt.Sprintf("  %-*s  %s  %s",
			width, job.Name,
			cell,
			formatDurationMs(job.DurationMs),
		))
	}
}

func (r *ConsoleReporter) printSteps(report *types.RunReport) {
	for _, job := range report.Jobs {
		if len(job.Steps) == 0 {
			continue
		}
		r.writeLine("")
		r.writeLine(r.colorize(job.Name+":", colorWhite))
		for _, step := range job.Steps {
			r.writeLine(fmt.Sprintf("    %s | %s | %s",
				step.Name,
				r.colorizeConclusion(step.Conclusion),
				formatDurationMs(step.DurationMs),
			))
		}
	}
}

// printTimings prints cross-cell percentiles. Step names that ran once
// have nothing to aggregate and are skipped.
func (r *ConsoleReporter) printTimings(report *types.RunReport) {
	var rows []*types.StepTimingStats
	for _, st := range report.StepTimings {
		if st.Count > 1 {
			rows = append(rows, st)
		}
	}
	if len(rows) == 0 {
		return
	}

	r.writeLine("")
	r.writeLine(r.colorize("Step timings across matrix cells:", colorYellow))
	for _, st := range rows {
		r.writeLine(fmt.Sprintf("  %s: n=%d | min=%s p50=%s p95=%s max=%s",
			st.Step,
			st.Count,
			formatDurationMs(int64(st.MinMs)),
			formatDurationMs(int64(st.P50Ms)),
			formatDurationMs(int64(st.P95Ms)),
			formatDurationMs(int64(st.MaxMs)),
		))
	}
}

func (r *ConsoleReporter) printCounters(report *types.RunReport) {
	t := report.Totals
	if t.CacheHits+t.CachePartial+t.CacheMisses > 0 {
		r.writeLine(fmt.Sprintf("Cache: %d hits | %d partial | %d misses",
			t.CacheHits, t.CachePartial, t.CacheMisses))
	}
	if t.CoverageUpload > 0 {
		r.writeLine(fmt.Sprintf("Coverage uploads: %d", t.CoverageUpload))
	}
}

func (r *ConsoleReporter) printFailures(report *types.RunReport) {
	printed := false
	for _, job := range report.Jobs {
		if job.Conclusion != types.ConclusionFailure {
			continue
		}
		step := firstFailedStep(job)
		if !printed {
			r.writeLine("")
			r.writeLine(r.colorize("Failures:", colorRed))
			printed = true
		}
		if step == nil {
			r.writeLine(fmt.Sprintf("  %s: %s", job.Name, job.Error))
			continue
		}

		head := fmt.Sprintf("  %s / %s", job.Name, step.Name)
		if step.ExitCode != 0 {
			head += fmt.Sprintf(" (exit %d)", step.ExitCode)
		}
		r.writeLine(head)
		if step.Error != "" {
			r.writeLine("    " + step.Error)
		}
		tail := step.LogTail
		if len(tail) > failureTailLines {
			tail = tail[len(tail)-failureTailLines:]
		}
		for _, line := range tail {
			r.writeLine("    | " + line)
		}
	}
}

func (r *ConsoleReporter) printFooter(report *types.RunReport) {
	t := report.Totals
	r.writeLine("")
	r.writeLine(r.colorize(fmt.Sprintf("=== %s | %d/%d jobs succeeded | %s ===",
		report.Conclusion,
		t.JobsSucceeded, t.Jobs,
		formatDurationMs(report.DurationMs),
	), footerColor(report.Conclusion)))
	r.writeLine("")
}

func firstFailedStep(job *types.JobReport) *types.StepReport {
	for _, step := range job.Steps {
		if step.Conclusion == types.ConclusionFailure {
			return step
		}
	}
	return nil
}

func footerColor(c types.Conclusion) string {
	if c == types.ConclusionSuccess {
		return colorGreen
	}
	return colorRed
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func formatDurationMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func (r *ConsoleReporter) writeLine(s string) {
	fmt.Fprintln(r.writer, s)
}

// Color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

func (r *ConsoleReporter) colorize(s string, color string) string {
	if !r.config.Color {
		return s
	}
	return color + s + colorReset
}

func (r *ConsoleReporter) colorizeConclusion(c types.Conclusion) string {
	return r.colorize(string(c), r.colorFor(c))
}

func (r *ConsoleReporter) colorFor(c types.Conclusion) string {
	switch c {
	case types.ConclusionSuccess:
		return colorGreen
	case types.ConclusionFailure:
		return colorRed
	case types.ConclusionCancelled:
		return colorYellow
	default:
		return colorWhite
	}
}
