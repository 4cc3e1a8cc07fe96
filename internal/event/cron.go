package event

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// ParseCron parses a standard 5-field cron expression.
func ParseCron(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// ValidateCron reports whether a cron expression parses.
func ValidateCron(spec string) error {
	_, err := ParseCron(spec)
	return err
}

// NextAfter returns the next firing time of one schedule entry after t.
func NextAfter(st types.ScheduleTrigger, t time.Time) (time.Time, error) {
	sched, err := ParseCron(st.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// MatchesMinute reports whether a schedule entry fires during the minute
// containing t.
func MatchesMinute(st types.ScheduleTrigger, t time.Time) (bool, error) {
	sched, err := ParseCron(st.Cron)
	if err != nil {
		return false, err
	}
	minute := t.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute), nil
}

// NextRun returns the earliest next firing time across a workflow's
// schedule triggers, zero when there are none.
func NextRun(schedules []types.ScheduleTrigger, after time.Time) (time.Time, error) {
	var next time.Time
	for _, st := range schedules {
		t, err := NextAfter(st, after)
		if err != nil {
			return time.Time{}, err
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next, nil
}
