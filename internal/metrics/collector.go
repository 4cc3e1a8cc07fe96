// Package metrics aggregates per-run execution statistics: step duration
// histograms keyed by step name and counters for job, step, cache and
// coverage outcomes.
package metrics

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// Histogram bounds in milliseconds. Steps shorter than a millisecond are
// clamped up, steps longer than an hour are clamped down.
const (
	histMinMs   = 1
	histMaxMs   = int64(time.Hour / time.Millisecond)
	histSigFigs = 3
)

// Collector accumulates statistics for one run. Step durations are grouped
// by step name, so the same step across matrix cells lands in one
// histogram. All methods are safe for concurrent use by job workers.
type Collector struct {
	mu     sync.Mutex
	steps  map[string]*hdrhistogram.Histogram
	order  []string
	totals types.ReportTotals
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{steps: make(map[string]*hdrhistogram.Histogram)}
}

// ObserveStep records a completed step. Durations are tracked only for
// steps that actually executed; skipped and cancelled steps count toward
// totals but not timing.
func (c *Collector) ObserveStep(res *types.StepResult) {
	if res == nil || res.Status != types.StatusCompleted {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totals.Steps++
	switch res.Conclusion {
	case types.ConclusionSuccess:
		c.totals.StepsSucceeded++
	case types.ConclusionFailure:
		c.totals.StepsFailed++
	}

	if hit, ok := res.Outputs["cache-hit"]; ok {
		switch {
		case hit == "true":
			c.totals.CacheHits++
		case res.Outputs["cache-matched-key"] != "":
			c.totals.CachePartial++
		default:
			c.totals.CacheMisses++
		}
	}
	if res.Outputs["uploaded"] == "true" {
		c.totals.CoverageUpload++
	}

	if res.Outcome != types.ConclusionSuccess && res.Outcome != types.ConclusionFailure {
		return
	}
	h, ok := c.steps[res.Name]
	if !ok {
		h = hdrhistogram.New(histMinMs, histMaxMs, histSigFigs)
		c.steps[res.Name] = h
		c.order = append(c.order, res.Name)
	}
	_ = h.RecordValue(clampMs(res.Duration()))
}

// ObserveJob records a completed job run.
func (c *Collector) ObserveJob(job *types.JobRun) {
	if job == nil || job.Status != types.StatusCompleted {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totals.Jobs++
	switch job.Conclusion {
	case types.ConclusionSuccess:
		c.totals.JobsSucceeded++
	case types.ConclusionFailure:
		c.totals.JobsFailed++
	case types.ConclusionCancelled:
		c.totals.JobsCancelled++
	case types.ConclusionSkipped:
		c.totals.JobsSkipped++
	}
}

// StepTimings returns duration statistics per step name, in first-seen
// order.
func (c *Collector) StepTimings() []*types.StepTimingStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.StepTimingStats, 0, len(c.order))
	for _, name := range c.order {
		h := c.steps[name]
		if h.TotalCount() == 0 {
			continue
		}
		out = append(out, &types.StepTimingStats{
			Step:  name,
			Count: h.TotalCount(),
			DurationStats: types.DurationStats{
				MinMs:  float64(h.Min()),
				MaxMs:  float64(h.Max()),
				MeanMs: h.Mean(),
				P50Ms:  float64(h.ValueAtQuantile(50)),
				P90Ms:  float64(h.ValueAtQuantile(90)),
				P95Ms:  float64(h.ValueAtQuantile(95)),
				P99Ms:  float64(h.ValueAtQuantile(99)),
			},
		})
	}
	return out
}

// Totals returns a copy of the run-wide counters.
func (c *Collector) Totals() types.ReportTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals
}

func clampMs(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < histMinMs {
		return histMinMs
	}
	if ms > histMaxMs {
		return histMaxMs
	}
	return ms
}
