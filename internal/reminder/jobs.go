package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/task/scheduler"
)

// Payload is the only data a job carries: a pointer back to its event.
type Payload struct {
	EventID int64 `json:"event_id"`
}

func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode job payload: %w", err)
	}
	if p.EventID <= 0 {
		return Payload{}, errors.New("job payload without event_id")
	}
	return p, nil
}

// JobInfo is what a lookup reveals about a live job.
type JobInfo struct {
	ID     string
	RunAt  time.Time
	Paused bool
}

// JobScheduler is the durable scheduler as the orchestrator sees it.
// Cancel tolerates absent jobs. Pause and Resume wrap ErrNotFound when the
// job does not exist; every other failure wraps ErrScheduling.
type JobScheduler interface {
	ScheduleOnce(ctx context.Context, jobID string, at time.Time, p Payload) error
	Cancel(ctx context.Context, jobID string) error
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	Lookup(ctx context.Context, jobID string) (JobInfo, bool, error)
}

// NewJobID returns a fresh job id. Each scheduling attempt gets its own.
func NewJobID() string { return uuid.NewString() }

// SchedulerJobs adapts *scheduler.Service.
type SchedulerJobs struct {
	sched *scheduler.Service
}

func NewSchedulerJobs(s *scheduler.Service) *SchedulerJobs { return &SchedulerJobs{sched: s} }

const jobName = "reminder"

func (j *SchedulerJobs) ScheduleOnce(ctx context.Context, jobID string, at time.Time, p Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	if err := j.sched.ScheduleOnce(ctx, jobID, jobName, at, b); err != nil {
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	return nil
}

func (j *SchedulerJobs) Cancel(ctx context.Context, jobID string) error {
	if err := j.sched.Cancel(ctx, jobID); err != nil {
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	return nil
}

func (j *SchedulerJobs) Pause(ctx context.Context, jobID string) error {
	return jobErr(j.sched.Pause(ctx, jobID))
}

func (j *SchedulerJobs) Resume(ctx context.Context, jobID string) error {
	return jobErr(j.sched.Resume(ctx, jobID))
}

func (j *SchedulerJobs) Lookup(ctx context.Context, jobID string) (JobInfo, bool, error) {
	job, ok, err := j.sched.Lookup(ctx, jobID)
	if err != nil {
		return JobInfo{}, false, fmt.Errorf("%w: %w", ErrScheduling, err)
	}
	if !ok {
		return JobInfo{}, false, nil
	}
	return JobInfo{ID: job.ID, RunAt: job.RunAt, Paused: job.Paused}, true, nil
}

func jobErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrJobNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrScheduling, err)
	}
}
