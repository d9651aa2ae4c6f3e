package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// Config controls the scheduler.
type Config struct {
	Enabled bool
	// Timezone (IANA) for cron triggers.
	Timezone string
	// MisfireGrace: a job firing later than this publishes JobMissed.
	// It still runs.
	MisfireGrace time.Duration
}

// JobStore is the persistence the scheduler needs. storage.Store satisfies it.
type JobStore interface {
	InsertJob(ctx context.Context, j storage.JobRecord) error
	GetJob(ctx context.Context, id string) (storage.JobRecord, error)
	ListJobs(ctx context.Context) ([]storage.JobRecord, error)
	SetJobPaused(ctx context.Context, id string, paused bool) error
	DeleteJob(ctx context.Context, id string) (bool, error)
}

// Job is a durable one-shot job as seen by handlers and callers.
type Job struct {
	ID      string
	Name    string
	RunAt   time.Time
	Payload []byte
	Paused  bool
}

// JobHandler runs a due job. A returned error is retried by the task engine;
// wrap permanent failures with engine.NoRetry.
type JobHandler func(ctx context.Context, job Job) error

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	opt     TaskOptions
}

type armed struct {
	t   *time.Timer
	ver uint64
}

const lockStripes = 64

type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	engine  *engine.Service
	store   JobStore
	handler JobHandler
	loc     *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Serializes operations on one job id; never held while a handler runs.
	locks [lockStripes]sync.Mutex

	tmu     sync.Mutex
	running bool
	timers  map[string]armed
	ver     uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// ScheduleInfo describes a registered periodic trigger.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Timezone  string
	ArmedJobs int
	Schedules []ScheduleInfo
	Engine    engine.Snapshot
}
