package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/pkg/logx"
)

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Notifier   NotifierConfig   `json:"notifier"`
	Reminders  RemindersConfig  `json:"reminders"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
	// SetCommands pushes the command menu via setMyCommands on start.
	SetCommands bool `json:"set_commands"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warn+ lines into an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the SQLite database.
//
//	"storage": { "path": "./data/remindbot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls job timers and periodic triggers.
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// MisfireGrace is how late a job may fire before JobMissed is published.
	MisfireGrace string `json:"misfire_grace,omitempty"`
	// Timezone for cron triggers. Defaults to reminders.timezone.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the worker pool that runs due jobs.
//
// Defaults: workers 2, queue_size 256, default_timeout 30s, history_size 200,
// retry_max 3, retry_base 1s, retry_max_delay 1m.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

// NotifierConfig controls outbound delivery.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// RemindersConfig holds the reminder domain policy.
type RemindersConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	ReconcileEvery string `json:"reconcile_every,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

const (
	DefaultTimezone       = "Europe/Kaliningrad"
	DefaultReconcileEvery = "@every 10m"
	DefaultDBPath         = "./data/remindbot.db"
)

// SchedulerEnabled defaults to true when omitted.
func (c *Config) SchedulerEnabled() bool {
	if c.Scheduler.Enabled == nil {
		return true
	}
	return *c.Scheduler.Enabled
}

// Location resolves reminders.timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Reminders.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("reminders.timezone: %w", err)
	}
	return loc, nil
}

// ReconcileSchedule returns the trigger spec for the reconcile sweep.
func (c *Config) ReconcileSchedule() string {
	if s := strings.TrimSpace(c.Reminders.ReconcileEvery); s != "" {
		return s
	}
	return DefaultReconcileEvery
}

func (c *Config) DBPath() string {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p
	}
	return DefaultDBPath
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			ChatID:     c.Logging.Telegram.ChatID,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	durations := map[string]string{
		"telegram.poll_timeout":       c.Telegram.PollTimeout,
		"storage.busy_timeout":        c.Storage.BusyTimeout,
		"scheduler.misfire_grace":     c.Scheduler.MisfireGrace,
		"task_engine.default_timeout": c.TaskEngine.DefaultTimeout,
		"task_engine.retry_base":      c.TaskEngine.RetryBase,
		"task_engine.retry_max_delay": c.TaskEngine.RetryMaxDelay,
		"notifier.retry_base":         c.Notifier.RetryBase,
		"notifier.retry_max_delay":    c.Notifier.RetryMaxDelay,
		"notifier.dedup_window":       c.Notifier.DedupWindow,
		"reminders.command_timeout":   c.Reminders.CommandTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.TaskEngine.Workers < 0 || c.TaskEngine.QueueSize < 0 || c.TaskEngine.RetryMax < 0 {
		errs = append(errs, errors.New("task_engine: workers, queue_size and retry_max must be >= 0"))
	}
	if c.Notifier.RatePerSec < 0 || c.Notifier.RetryMax < 0 {
		errs = append(errs, errors.New("notifier: rate_per_sec and retry_max must be >= 0"))
	}
	return errors.Join(errs...)
}
