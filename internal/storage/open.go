package storage

import (
	"context"
	"time"

	"remindbot/pkg/logx"
)

// Store is the persistence API shared by the reminder service, the job
// scheduler and the notifier.
type Store interface {
	PutUser(ctx context.Context, u UserRecord) (UserRecord, error)
	GetUser(ctx context.Context, id int64) (UserRecord, error)
	SetUserStatus(ctx context.Context, id int64, status string) error
	DeleteUser(ctx context.Context, id int64) error

	InsertEvent(ctx context.Context, e EventRecord) (int64, error)
	GetEvent(ctx context.Context, id int64) (EventRecord, error)
	ListEvents(ctx context.Context, f EventFilter) ([]EventRecord, error)
	UpdateEventState(ctx context.Context, id int64, state string) error
	UpdateEventStatus(ctx context.Context, id int64, status string) error
	UpdateEventSchedule(ctx context.Context, id int64, jobID string, at time.Time, status string) error
	DeleteEvent(ctx context.Context, id int64) error

	InsertJob(ctx context.Context, j JobRecord) error
	GetJob(ctx context.Context, id string) (JobRecord, error)
	ListJobs(ctx context.Context) ([]JobRecord, error)
	SetJobPaused(ctx context.Context, id string, paused bool) error
	DeleteJob(ctx context.Context, id string) (bool, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open opens the SQLite database at cfg.Path, creating it and applying
// migrations as needed.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := openSQLite(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return st, nil
}
