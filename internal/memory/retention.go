package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/reactagent/pkg/log"
)

// Pruner deletes entries older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler is the subset of *cron.Cron used for retention.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
}

// ScheduleRetention registers a job on c that prunes entries older than
// maxAge every time expr fires.
func ScheduleRetention(c Scheduler, expr string, maxAge time.Duration, p Pruner) (cron.EntryID, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("retention max age must be positive")
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return 0, fmt.Errorf("invalid retention cron expression: %w", err)
	}
	return c.AddFunc(expr, RetentionJob(p, maxAge, time.Now))
}

// RetentionJob returns the function run on each tick.
func RetentionJob(p Pruner, maxAge time.Duration, now func() time.Time) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		cutoff := now().Add(-maxAge)
		removed, err := p.PruneBefore(ctx, cutoff)
		if err != nil {
			log.Error("Memory retention failed: %v", err)
			return
		}
		log.Info("Memory retention removed %d entries older than %s", removed, cutoff.Format(time.RFC3339))
	}
}
