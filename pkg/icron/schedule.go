package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerInfo describes a cron schedule relative to a reference time
type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

const lookback = 366 * 24 * time.Hour

var standardParser = cron.NewParser(cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// GetTriggerInfo reports when a standard five-field cron expression last
// fired at or before refTime and when it fires next. Last is zero when the
// expression did not fire within the previous year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := standardParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastFire(schedule, refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	return info, nil
}

// lastFire widens the window backwards until it holds a fire time, then walks
// forward to the latest one not after ref.
func lastFire(schedule cron.Schedule, ref time.Time) time.Time {
	for window := time.Minute; window <= 2*lookback; window *= 2 {
		t := schedule.Next(ref.Add(-window))
		if t.IsZero() || t.After(ref) {
			continue
		}
		if ref.Sub(t) > lookback {
			return time.Time{}
		}
		for {
			n := schedule.Next(t)
			if n.IsZero() || n.After(ref) {
				return t
			}
			t = n
		}
	}
	return time.Time{}
}
