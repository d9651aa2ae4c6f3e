package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/logx"
)

const reconcileTask = "reminders.reconcile"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	base  logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	engine  *engine.Service
	sched   *scheduler.Service
	notif   *notifier.Service

	reminders  *reminder.Service
	reconciler *reminder.Reconciler
	router     *router.Router

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	cfgm := config.NewManager(cfgPath, bootLog.With(logx.String("comp", "config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(adapterConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig(), ad)

	store, err := storage.Open(ctx, storageConfig(cfg), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	eng := engine.New(engineConfig(cfg), log, bus)
	sched := scheduler.New(schedulerConfig(cfg), store, eng, log, bus)
	notif := notifier.New(notifierConfig(cfg), ad, store, log, bus)

	svc := reminder.NewService(reminder.Config{Location: loc},
		reminder.NewStore(store), reminder.NewSchedulerJobs(sched), notif, log)
	sched.Handle(svc.HandleJob)

	return &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		base:       log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		engine:     eng,
		sched:      sched,
		notif:      notif,
		reminders:  svc,
		reconciler: reminder.NewReconciler(svc, log),
		router:     router.New(routerConfig(cfg), svc, ad, log),
		updates:    make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the engine, re-arms persisted jobs, repairs drift between
// events and jobs, then starts taking commands.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	// The listener must be subscribed before the scheduler publishes.
	jobEvents, unsub := a.bus.SubscribePrefix(scheduler.TopicPrefix, 128)
	a.sup.Go0("jobs.listen", func(c context.Context) {
		defer unsub()
		reminder.Listen(c, jobEvents, a.base)
	})

	a.engine.Start(run)
	if err := a.sched.Start(run); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if rep, err := a.reconciler.Run(run); err != nil {
		a.log.Warn("startup reconcile incomplete", logx.Err(err))
	} else if rep.Failed > 0 {
		a.log.Warn("startup reconcile left failures", logx.Int("failed", rep.Failed))
	}
	if err := a.scheduleReconcile(cfg.ReconcileSchedule()); err != nil {
		return err
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	if cfg.Telegram.SetCommands {
		a.sup.Go0("telegram.menu.update", func(c context.Context) {
			_ = a.router.PublishMenu(c)
		})
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(true),
	)

	sdNotify(a.log, daemon.SdNotifyReady)
	snap := a.sched.Snapshot()
	a.log.Info("app started",
		logx.String("tz", a.reminders.Location().String()),
		logx.Int("armed_jobs", snap.ArmedJobs),
		logx.Int("schedules", len(snap.Schedules)),
		logx.Int("workers", snap.Engine.Workers),
	)
	return nil
}

func (a *App) scheduleReconcile(spec string) error {
	_, err := a.sched.AddSchedule(reconcileTask, spec, 0, func(c context.Context) error {
		_, err := a.reconciler.Run(c)
		return err
	})
	if err != nil {
		return fmt.Errorf("reminders.reconcile_every %q: %w", spec, err)
	}
	return nil
}

// reloadLoop applies hot-reloaded config. Sections that need a restart are
// only logged.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if config.RequiresRestart(prev, next) {
		a.log.Warn("config change needs a restart to take effect (telegram.token, storage, task_engine)")
	}

	a.logs.Apply(next.LogConfig())
	a.notif.Apply(notifierConfig(next))
	a.sched.Apply(schedulerConfig(next))
	a.router.SetCommandTimeout(routerConfig(next).CommandTimeout)
	if loc, err := next.Location(); err == nil {
		a.reminders.SetLocation(loc)
	}
	if prev.ReconcileSchedule() != next.ReconcileSchedule() {
		if err := a.scheduleReconcile(next.ReconcileSchedule()); err != nil {
			a.log.Warn("reconcile schedule not updated", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	snap := a.sched.Snapshot()
	a.log.Info("stopping",
		logx.String("reason", string(reason)),
		logx.Int("armed_jobs", snap.ArmedJobs),
		logx.Uint64("engine_dropped", snap.Engine.Dropped),
		logx.Int("recent_deliveries", len(a.notif.Snapshot())),
	)
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.sup.Cancel()

	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
		case took >= 500*time.Millisecond:
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		default:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
