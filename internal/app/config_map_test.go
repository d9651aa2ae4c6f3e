package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
)

func TestConfigMappersFillDefaults(t *testing.T) {
	cfg := &config.Config{}

	require.Equal(t, config.DefaultDBPath, storageConfig(cfg).Path)
	require.Equal(t, 5*time.Second, storageConfig(cfg).BusyTimeout)
	require.Equal(t, 10*time.Second, adapterConfig(cfg).PollTimeout)

	eng := engineConfig(cfg)
	require.True(t, eng.Enabled)
	require.Equal(t, 3, eng.RetryMax)
	require.Equal(t, 30*time.Second, eng.DefaultTimeout)

	sched := schedulerConfig(cfg)
	require.Equal(t, config.DefaultTimezone, sched.Timezone)
	require.Equal(t, time.Minute, sched.MisfireGrace)

	n := notifierConfig(cfg)
	require.Equal(t, 3, n.RetryMax)
	require.Equal(t, 48*time.Hour, n.DedupWindow)

	require.Equal(t, 15*time.Second, routerConfig(cfg).CommandTimeout)
}

func TestConfigMappersUseValues(t *testing.T) {
	off := false
	cfg := &config.Config{
		Storage:    config.StorageConfig{Path: "/tmp/r.db", BusyTimeout: "2s"},
		Scheduler:  config.SchedulerConfig{Enabled: &off, MisfireGrace: "5m"},
		TaskEngine: config.TaskEngineConfig{Workers: 4, RetryMax: 1, DefaultTimeout: "1m"},
		Notifier:   config.NotifierConfig{RatePerSec: 10, DedupWindow: "1h"},
		Reminders:  config.RemindersConfig{Timezone: "Europe/Moscow", CommandTimeout: "3s"},
	}

	require.Equal(t, "/tmp/r.db", storageConfig(cfg).Path)
	require.Equal(t, 2*time.Second, storageConfig(cfg).BusyTimeout)

	eng := engineConfig(cfg)
	require.False(t, eng.Enabled)
	require.Equal(t, 4, eng.Workers)
	require.Equal(t, 1, eng.RetryMax)
	require.Equal(t, time.Minute, eng.DefaultTimeout)

	sched := schedulerConfig(cfg)
	require.False(t, sched.Enabled)
	require.Equal(t, "Europe/Moscow", sched.Timezone, "falls back to reminders.timezone")
	require.Equal(t, 5*time.Minute, sched.MisfireGrace)

	cfg.Scheduler.Timezone = "UTC"
	require.Equal(t, "UTC", schedulerConfig(cfg).Timezone)

	n := notifierConfig(cfg)
	require.Equal(t, 10, n.RatePerSec)
	require.Equal(t, time.Hour, n.DedupWindow)

	require.Equal(t, 3*time.Second, routerConfig(cfg).CommandTimeout)
}
