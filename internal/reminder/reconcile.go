package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/pkg/logx"
)

// Report counts what one sweep did.
type Report struct {
	Scanned     int
	Cancelled   int
	Paused      int
	Resumed     int
	Rescheduled int
	Promoted    int
	Expired     int
	Failed      int
	Took        time.Duration
}

// Changed is the number of repaired events.
func (r Report) Changed() int {
	return r.Cancelled + r.Paused + r.Resumed + r.Rescheduled + r.Promoted + r.Expired
}

type repair int

const (
	repairNone repair = iota
	repairCancel
	repairPause
	repairResume
	repairReschedule
	repairPromote
	repairExpire
)

func (r *Report) add(a repair) {
	switch a {
	case repairCancel:
		r.Cancelled++
	case repairPause:
		r.Paused++
	case repairResume:
		r.Resumed++
	case repairReschedule:
		r.Rescheduled++
	case repairPromote:
		r.Promoted++
	case repairExpire:
		r.Expired++
	}
}

// Reconciler aligns persisted events with live jobs. Each event is repaired
// on its own; a failing record is logged and skipped.
type Reconciler struct {
	svc *Service
	log logx.Logger
}

func NewReconciler(svc *Service, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{svc: svc, log: log.With(logx.String("comp", "reconciler"))}
}

// Run sweeps every event once. It fails only when events cannot be listed
// or ctx ends.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	events, err := r.svc.store.ListByType(ctx, "")
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			rep.Took = time.Since(start)
			return rep, err
		}
		rep.Scanned++
		a, err := r.repair(ctx, ev)
		if err != nil {
			rep.Failed++
			r.log.Warn("event repair failed", logx.Int64("event_id", ev.ID), logx.String("job_id", ev.JobID), logx.Err(err))
			continue
		}
		rep.add(a)
	}
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("scanned", rep.Scanned),
		logx.Int("changed", rep.Changed()),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	}
	if rep.Changed() > 0 || rep.Failed > 0 {
		r.log.Info("reconcile finished", fields...)
	} else {
		r.log.Debug("reconcile finished", fields...)
	}
	return rep, nil
}

func (r *Reconciler) repair(ctx context.Context, ev Event) (repair, error) {
	jobs := r.svc.jobs
	var (
		job  JobInfo
		live bool
		err  error
	)
	if ev.JobID != "" {
		job, live, err = jobs.Lookup(ctx, ev.JobID)
		if err != nil {
			return repairNone, err
		}
	}

	switch {
	case ev.Status.Terminal():
		if !live {
			return repairNone, nil
		}
		return repairCancel, jobs.Cancel(ctx, ev.JobID)

	case ev.State == StateDisabled:
		if !live || job.Paused {
			return repairNone, nil
		}
		return repairPause, jobs.Pause(ctx, ev.JobID)

	case ev.Status != StatusCreated && ev.Status != StatusScheduled:
		return repairNone, fmt.Errorf("unknown status %q", ev.Status)

	case !live:
		return r.rederive(ctx, ev)

	case job.Paused:
		if err := jobs.Resume(ctx, ev.JobID); err != nil {
			return repairNone, err
		}
		if ev.Status == StatusCreated {
			if err := r.svc.store.UpdateStatus(ctx, ev.ID, StatusScheduled); err != nil {
				return repairResume, err
			}
		}
		return repairResume, nil

	case ev.Status == StatusCreated:
		return repairPromote, r.svc.store.UpdateStatus(ctx, ev.ID, StatusScheduled)
	}
	return repairNone, nil
}

// rederive schedules a fresh job for an enabled event that has none.
// Unusable schedule data, or a one-shot whose instant has passed, expires the
// event.
func (r *Reconciler) rederive(ctx context.Context, ev Event) (repair, error) {
	at, err := nextFromData(ev, r.svc.clock())
	if err != nil {
		if !errors.Is(err, errMalformedEvent) && !errors.Is(err, ErrInvalidDate) && !errors.Is(err, errPassed) {
			return repairNone, err
		}
		if uerr := r.svc.store.UpdateStatus(ctx, ev.ID, StatusExpired); uerr != nil {
			return repairNone, uerr
		}
		if errors.Is(err, errPassed) {
			r.log.Info("missed one-shot event expired", logx.Int64("event_id", ev.ID))
		} else {
			r.log.Error("event has unusable schedule data; expired", logx.Int64("event_id", ev.ID), logx.Err(err))
		}
		return repairExpire, nil
	}

	// Skip records that changed since the listing, e.g. a concurrent firing.
	cur, err := r.svc.store.Get(ctx, ev.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return repairNone, nil
		}
		return repairNone, err
	}
	if cur.JobID != ev.JobID || cur.Status != ev.Status || cur.State != ev.State {
		return repairNone, nil
	}

	if err := r.svc.reschedule(ctx, ev, at); err != nil {
		return repairNone, err
	}
	r.log.Info("missing job recreated", logx.Int64("event_id", ev.ID), logx.Time("at", at))
	return repairReschedule, nil
}
