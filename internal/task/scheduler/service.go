package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/engine"
	"remindbot/pkg/logx"
)

func New(cfg Config, store JobStore, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		engine: eng,
		store:  store,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:      map[string]armed{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Handle installs the callback for due one-shot jobs.
func (s *Service) Handle(fn JobHandler) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Apply swaps runtime settings. A timezone change restarts cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartCronLocked()
	}
}

// Start begins cron triggering and re-arms every persisted job. Overdue jobs fire immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.cfg.Enabled || s.c != nil {
		s.mu.Unlock()
		return nil
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	loc, ndefs := s.loc, len(s.defs)
	s.mu.Unlock()

	s.tmu.Lock()
	s.running = true
	s.tmu.Unlock()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return err
	}
	armedN := 0
	for _, rec := range jobs {
		if rec.Paused {
			continue
		}
		s.arm(fromRecord(rec))
		armedN++
	}
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", ndefs), logx.Int("jobs", armedN))
	return nil
}

// Stop halts cron and all job timers. Job records stay so they re-arm on next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	s.running = false
	for _, a := range s.timers {
		a.t.Stop()
	}
	s.timers = map[string]armed{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	eng := s.engine
	s.mu.Unlock()

	s.tmu.Lock()
	snap.ArmedJobs = len(s.timers)
	s.tmu.Unlock()
	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

func (s *Service) publish(ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: ev.topic(), Time: time.Now(), Data: ev})
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
