package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// interval fires every d after the previous activation. Unlike
// cron.ConstantDelaySchedule it keeps sub-second precision.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}

// ParseSchedule accepts a Go duration ("15m"), a five-field cron expression
// or a descriptor such as "@hourly" or "@every 2h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule %q: interval must be positive", spec)
		}
		return interval(d), nil
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return sched, nil
}
