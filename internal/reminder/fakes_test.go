package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/pkg/logx"
)

type fakeJob struct {
	at     time.Time
	p      Payload
	paused bool
}

// fakeJobs is an in-memory JobScheduler with failure injection.
type fakeJobs struct {
	mu           sync.Mutex
	jobs         map[string]*fakeJob
	cancels      int
	failSchedule error
	failCancel   error
	failLookup   map[string]error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*fakeJob{}, failLookup: map[string]error{}}
}

func (f *fakeJobs) ScheduleOnce(_ context.Context, id string, at time.Time, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSchedule != nil {
		return fmt.Errorf("%w: %w", ErrScheduling, f.failSchedule)
	}
	if _, ok := f.jobs[id]; ok {
		return fmt.Errorf("%w: duplicate %s", ErrScheduling, id)
	}
	f.jobs[id] = &fakeJob{at: at, p: p}
	return nil
}

func (f *fakeJobs) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.failCancel != nil {
		return fmt.Errorf("%w: %w", ErrScheduling, f.failCancel)
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeJobs) setPaused(id string, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	j.paused = paused
	return nil
}

func (f *fakeJobs) Pause(_ context.Context, id string) error  { return f.setPaused(id, true) }
func (f *fakeJobs) Resume(_ context.Context, id string) error { return f.setPaused(id, false) }

func (f *fakeJobs) Lookup(_ context.Context, id string) (JobInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLookup[id]; err != nil {
		return JobInfo{}, false, err
	}
	j, ok := f.jobs[id]
	if !ok {
		return JobInfo{}, false, nil
	}
	return JobInfo{ID: id, RunAt: j.at, Paused: j.paused}, true, nil
}

func (f *fakeJobs) get(id string) (fakeJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return fakeJob{}, false
	}
	return *j, true
}

func (f *fakeJobs) drop(id string) {
	f.mu.Lock()
	delete(f.jobs, id)
	f.mu.Unlock()
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type sent struct {
	chatID int64
	text   string
	key    string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	fail error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, sent{chatID: chatID, text: text, key: key})
	return nil
}

func (f *fakeSender) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type env struct {
	svc   *Service
	rec   *Reconciler
	db    storage.Store
	jobs  *fakeJobs
	send  *fakeSender
	clock *clock
}

const (
	aliceID = int64(100)
	chatID  = int64(-500)
)

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "r.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{db: db, jobs: newFakeJobs(), send: &fakeSender{}, clock: &clock{now: now}}
	e.svc = NewService(Config{Location: kaliningrad, Now: e.clock.Now}, NewStore(db), e.jobs, e.send, logx.Nop())
	e.rec = NewReconciler(e.svc, logx.Nop())

	_, err = e.svc.Register(context.Background(), aliceID, "alice")
	require.NoError(t, err)
	return e
}

func (e *env) create(t *testing.T, args string) Event {
	t.Helper()
	ev, err := e.svc.Create(context.Background(), CreateRequest{UserID: aliceID, ChatID: chatID, Args: args})
	require.NoError(t, err)
	return ev
}

func (e *env) event(t *testing.T, id int64) Event {
	t.Helper()
	ev, err := NewStore(e.db).Get(context.Background(), id)
	require.NoError(t, err)
	return ev
}

// fire runs the job the way the scheduler does: callback, then the job
// record is removed unless the run was interrupted.
func (e *env) fire(t *testing.T, jobID string) error {
	t.Helper()
	j, ok := e.jobs.get(jobID)
	require.True(t, ok, "job %s not live", jobID)
	b, err := json.Marshal(j.p)
	require.NoError(t, err)
	err = e.svc.HandleJob(context.Background(), scheduler.Job{ID: jobID, RunAt: j.at, Payload: b})
	if !errors.Is(err, context.Canceled) {
		e.jobs.drop(jobID)
	}
	return err
}
