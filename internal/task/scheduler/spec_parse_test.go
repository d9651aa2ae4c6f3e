package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		cron     string
		duration time.Duration
		at       string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", cron: "*/5 * * * *"},
		{name: "reconcile default", raw: config.DefaultReconcileEvery, kind: SpecCron, source: "cron", cron: "@every 10m"},
		{name: "prefixed cron", raw: "CRON: 0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "duration", raw: " 10m ", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "every with spaces", raw: "every:  45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "interval hhmm", raw: "Interval: 01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "hhmm", raw: "00:10", kind: SpecInterval, source: "hhmm", duration: 10 * time.Minute},
		{name: "daily", raw: "daily:3:05", kind: SpecDaily, source: "daily", at: "03:05"},
		{name: "daily with spaces", raw: "DAILY: 23:59 ", kind: SpecDaily, source: "daily", at: "23:59"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			require.Equal(t, tt.kind, got.Kind)
			require.Equal(t, tt.source, got.Source)
			switch tt.kind {
			case SpecCron:
				require.Equal(t, tt.cron, got.Cron)
			case SpecInterval:
				require.Equal(t, tt.duration, got.Every)
			case SpecDaily:
				require.Equal(t, tt.at, got.At)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"", "  ", "not-a-schedule", "00:00", "01:75", "-5m",
		"cron:", "every:", "every: 0s", "daily:", "daily:24:00", "daily:7",
	} {
		_, err := ParseSchedule(raw)
		require.Error(t, err, "ParseSchedule(%q)", raw)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	require.NoError(t, err)
	require.Equal(t, 23, h)
	require.Equal(t, 15, m)

	_, _, err = parseHHMM("24:00")
	require.Error(t, err)
}

func TestAddScheduleDailyRegistersCron(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "s.db"))
	noop := func(context.Context) error { return nil }

	_, err := h.sched.AddSchedule("reminders.reconcile", "daily:03:05", 0, noop)
	require.NoError(t, err)
	snap := h.sched.Snapshot()
	require.Len(t, snap.Schedules, 1)
	require.Equal(t, "5 3 * * *", snap.Schedules[0].Spec)

	// Re-adding under the same name replaces the trigger.
	_, err = h.sched.AddSchedule("reminders.reconcile", "every: 15m", 0, noop)
	require.NoError(t, err)
	snap = h.sched.Snapshot()
	require.Len(t, snap.Schedules, 1)
	require.Equal(t, "@every 15m0s", snap.Schedules[0].Spec)

	_, err = h.sched.AddSchedule("reminders.reconcile", "daily:25:00", 0, noop)
	require.Error(t, err)
}
