package scheduler

import "time"

// Bus topics for job lifecycle events. All share the "job." prefix.
const (
	TopicJobAdded     = "job.added"
	TopicJobSubmitted = "job.submitted"
	TopicJobExecuted  = "job.executed"
	TopicJobFailed    = "job.failed"
	TopicJobMissed    = "job.missed"
	TopicJobRemoved   = "job.removed"

	TopicPrefix = "job."
)

// JobEvent is the closed set of job lifecycle notifications.
// Only the types in this file implement it.
type JobEvent interface {
	JobID() string
	topic() string
}

// JobAdded: a job was persisted and armed.
type JobAdded struct {
	ID    string
	Name  string
	RunAt time.Time
}

// JobSubmitted: a due job was handed to the task engine.
type JobSubmitted struct {
	ID    string
	RunAt time.Time
}

// JobExecuted: the handler returned nil.
type JobExecuted struct {
	ID       string
	Attempts int
}

// JobFailed: the handler failed after all retries.
type JobFailed struct {
	ID       string
	Attempts int
	Err      error
}

// JobMissed: the job fired later than the misfire grace. It still runs.
type JobMissed struct {
	ID    string
	RunAt time.Time
	Late  time.Duration
}

// JobRemoved: the job record is gone, by cancel or after running.
type JobRemoved struct {
	ID string
}

func (e JobAdded) JobID() string     { return e.ID }
func (e JobSubmitted) JobID() string { return e.ID }
func (e JobExecuted) JobID() string  { return e.ID }
func (e JobFailed) JobID() string    { return e.ID }
func (e JobMissed) JobID() string    { return e.ID }
func (e JobRemoved) JobID() string   { return e.ID }

func (JobAdded) topic() string     { return TopicJobAdded }
func (JobSubmitted) topic() string { return TopicJobSubmitted }
func (JobExecuted) topic() string  { return TopicJobExecuted }
func (JobFailed) topic() string    { return TopicJobFailed }
func (JobMissed) topic() string    { return TopicJobMissed }
func (JobRemoved) topic() string   { return TopicJobRemoved }
