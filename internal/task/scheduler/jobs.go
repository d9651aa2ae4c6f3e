package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"
)

const (
	storeTimeout = 5 * time.Second
	// requeueDelay re-arms a due job that could not be handed to the engine.
	requeueDelay = 2 * time.Second
)

func fromRecord(r storage.JobRecord) Job {
	return Job{ID: r.ID, Name: r.Name, RunAt: r.RunAt, Payload: r.Payload, Paused: r.Paused}
}

func (s *Service) lockFor(id string) *sync.Mutex {
	return &s.locks[fnv64a(id)%lockStripes]
}

// ScheduleOnce persists a job that fires once at the given instant, then arms it.
// A job with the same id yields ErrJobExists.
func (s *Service) ScheduleOnce(ctx context.Context, id, name string, at time.Time, payload []byte) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("job id required")
	}
	if at.IsZero() {
		return errors.New("job run time required")
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	rec := storage.JobRecord{ID: id, Name: name, RunAt: at, Payload: payload}
	if err := s.store.InsertJob(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return fmt.Errorf("%w: %s", ErrJobExists, id)
		}
		return err
	}
	s.arm(fromRecord(rec))
	s.publish(JobAdded{ID: id, Name: name, RunAt: at})
	s.log.Debug("job scheduled", logx.String("job_id", id), logx.String("name", name), logx.Time("run_at", at))
	return nil
}

// Cancel removes the job. An absent job is not an error.
func (s *Service) Cancel(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	s.disarm(id)
	removed, err := s.store.DeleteJob(ctx, id)
	if err != nil {
		return err
	}
	if removed {
		s.publish(JobRemoved{ID: id})
	}
	return nil
}

// Pause keeps the job but stops its timer. ErrJobNotFound when absent.
func (s *Service) Pause(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.SetJobPaused(ctx, id, true); err != nil {
		return notFound(err, id)
	}
	s.disarm(id)
	return nil
}

// Resume re-arms a paused job. An overdue job fires immediately.
func (s *Service) Resume(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.SetJobPaused(ctx, id, false); err != nil {
		return notFound(err, id)
	}
	rec, err := s.store.GetJob(ctx, id)
	if err != nil {
		return notFound(err, id)
	}
	s.arm(fromRecord(rec))
	return nil
}

// Lookup returns the persisted job and whether it exists.
func (s *Service) Lookup(ctx context.Context, id string) (Job, bool, error) {
	rec, err := s.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return fromRecord(rec), true, nil
}

func notFound(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return err
}

// arm (re)starts the in-process timer for j. No-op while stopped.
func (s *Service) arm(j Job) {
	s.armAfter(j, time.Until(j.RunAt))
}

func (s *Service) armAfter(j Job, delay time.Duration) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if !s.running {
		return
	}
	if prev, ok := s.timers[j.ID]; ok {
		prev.t.Stop()
	}
	s.ver++
	ver := s.ver
	id := j.ID
	s.timers[id] = armed{ver: ver, t: time.AfterFunc(max(delay, 0), func() { s.fire(id, ver) })}
}

func (s *Service) disarm(id string) {
	s.tmu.Lock()
	if a, ok := s.timers[id]; ok {
		a.t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()
}

// fire runs on the timer goroutine. The record is re-read so a job removed
// or paused after arming is skipped.
func (s *Service) fire(id string, ver uint64) {
	s.tmu.Lock()
	a, ok := s.timers[id]
	if !ok || a.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.timers, id)
	s.tmu.Unlock()

	mu := s.lockFor(id)
	mu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	rec, err := s.store.GetJob(ctx, id)
	cancel()
	mu.Unlock()

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		s.log.Warn("job reload failed; retrying", logx.String("job_id", id), logx.Err(err))
		s.armAfter(Job{ID: id}, requeueDelay)
		return
	case rec.Paused:
		return
	}
	job := fromRecord(rec)

	s.mu.Lock()
	grace, handler, eng := s.cfg.MisfireGrace, s.handler, s.engine
	s.mu.Unlock()

	if late := time.Since(job.RunAt); grace > 0 && late > grace {
		s.publish(JobMissed{ID: id, RunAt: job.RunAt, Late: late})
	}
	if handler == nil {
		s.log.Warn("job due but no handler installed", logx.String("job_id", id))
		return
	}
	s.publish(JobSubmitted{ID: id, RunAt: job.RunAt})

	task := engine.Task{
		ID:   id,
		Name: "job:" + job.Name,
		Run:  func(ctx context.Context) error { return handler(ctx, job) },
		Done: func(err error, attempts int) { s.complete(job, err, attempts) },
	}
	if eng == nil || !eng.Enabled() {
		go s.runInline(task)
		return
	}
	err = eng.Enqueue(task)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrQueueFull):
		s.reportEnqueueError(task.Name, err)
		s.armAfter(job, requeueDelay)
	default:
		// Stopped: the record stays and re-arms on next Start.
		s.reportEnqueueError(task.Name, err)
	}
}

func (s *Service) runInline(t engine.Task) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		return t.Run(ctx)
	}()
	t.Done(err, 1)
}

// complete reports the outcome and deletes the record. An interrupted run
// keeps its record so it fires again after restart.
func (s *Service) complete(job Job, err error, attempts int) {
	if errors.Is(err, engine.ErrStopped) || errors.Is(err, context.Canceled) {
		s.log.Debug("job interrupted; kept for next start", logx.String("job_id", job.ID))
		return
	}
	if err != nil {
		s.publish(JobFailed{ID: job.ID, Attempts: attempts, Err: err})
	} else {
		s.publish(JobExecuted{ID: job.ID, Attempts: attempts})
	}

	mu := s.lockFor(job.ID)
	mu.Lock()
	defer mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	removed, derr := s.store.DeleteJob(ctx, job.ID)
	if derr != nil {
		s.log.Error("job cleanup failed", logx.String("job_id", job.ID), logx.Err(derr))
		return
	}
	if removed {
		s.publish(JobRemoved{ID: job.ID})
	}
}
