package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
)

// Durations below were validated by config.Validate, so the mappers only
// fill defaults.

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Path:        cfg.DBPath(),
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 5*time.Second),
	}
}

func adapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	retryMax := te.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return engine.Config{
		// Due jobs only ever reach the engine through the scheduler.
		Enabled:        cfg.SchedulerEnabled(),
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: config.DurationOr(te.DefaultTimeout, 30*time.Second),
		HistorySize:    te.HistorySize,
		RetryMax:       retryMax,
		RetryBase:      config.DurationOr(te.RetryBase, time.Second),
		RetryMaxDelay:  config.DurationOr(te.RetryMaxDelay, time.Minute),
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Reminders.Timezone)
	}
	if tz == "" {
		tz = config.DefaultTimezone
	}
	return scheduler.Config{
		Enabled:      cfg.SchedulerEnabled(),
		Timezone:     tz,
		MisfireGrace: config.DurationOr(cfg.Scheduler.MisfireGrace, time.Minute),
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	retryMax := n.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
		RatePerSec:    n.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     config.DurationOr(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay: config.DurationOr(n.RetryMaxDelay, 10*time.Second),
		DedupWindow:   config.DurationOr(n.DedupWindow, 48*time.Hour),
	}
}

func routerConfig(cfg *config.Config) router.Config {
	return router.Config{
		CommandTimeout: config.DurationOr(cfg.Reminders.CommandTimeout, 15*time.Second),
	}
}
