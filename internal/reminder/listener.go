package reminder

import (
	"context"
	"fmt"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/scheduler"
	"remindbot/pkg/logx"
)

// Listen logs scheduler job events until ctx ends or events is closed.
func Listen(ctx context.Context, events <-chan eventbus.Event, log logx.Logger) {
	log = log.With(logx.String("comp", "jobs"))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if je, ok := ev.Data.(scheduler.JobEvent); ok {
				logJobEvent(log, je)
			}
		}
	}
}

func logJobEvent(log logx.Logger, ev scheduler.JobEvent) {
	id := logx.String("job_id", ev.JobID())
	switch e := ev.(type) {
	case scheduler.JobAdded:
		log.Debug("job added", id, logx.Time("run_at", e.RunAt))
	case scheduler.JobSubmitted:
		log.Debug("job submitted", id, logx.Time("run_at", e.RunAt))
	case scheduler.JobExecuted:
		log.Debug("job executed", id, logx.Int("attempts", e.Attempts))
	case scheduler.JobFailed:
		log.Error("job failed", id, logx.Int("attempts", e.Attempts), logx.Err(e.Err))
	case scheduler.JobMissed:
		log.Warn("job missed its time", id, logx.Time("run_at", e.RunAt), logx.Duration("late", e.Late))
	case scheduler.JobRemoved:
		log.Debug("job removed", id)
	default:
		log.Warn("unknown job event", id, logx.String("type", fmt.Sprintf("%T", ev)))
	}
}
