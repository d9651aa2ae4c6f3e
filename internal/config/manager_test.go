package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/pkg/logx"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
reminders:
  timezone: Europe/Kaliningrad
  reconcile_every: "@every 5m"
task_engine:
  workers: 3
  default_timeout: 20s
`)
	cfg, err := NewManager(p, logx.Nop()).Load()
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, 3, cfg.TaskEngine.Workers)
	require.Equal(t, "@every 5m", cfg.ReconcileSchedule())
	require.Equal(t, 20*time.Second, DurationOr(cfg.TaskEngine.DefaultTimeout, time.Second))
	require.True(t, cfg.SchedulerEnabled())

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Europe/Kaliningrad", loc.String())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"},"plugins":{}}`)
	_, err := NewManager(p, logx.Nop()).Load()
	require.Error(t, err)
}

func TestLoadRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"}}{}`)
	_, err := NewManager(p, logx.Nop()).Load()
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Level: "chatty"},
		Reminders: RemindersConfig{Timezone: "Mars/Olympus", CommandTimeout: "soon"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "telegram.token")
	require.Contains(t, err.Error(), "logging.level")
	require.Contains(t, err.Error(), "reminders.timezone")
	require.Contains(t, err.Error(), "reminders.command_timeout")
}

func TestEnvOverridesToken(t *testing.T) {
	t.Setenv("REMINDBOT_TELEGRAM_TOKEN", "from-env")
	t.Setenv("REMINDBOT_STORAGE_PATH", "/tmp/x.db")
	p := writeFile(t, "config.json", `{"telegram":{"token":"from-file"}}`)
	cfg, err := NewManager(p, logx.Nop()).Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Telegram.Token)
	require.Equal(t, "/tmp/x.db", cfg.DBPath())
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"a"}}`)
	m := NewManager(p, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload()
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"logging":{"level":"debug"}}`), 0o600))
	changed, err = m.Reload()
	require.NoError(t, err)
	require.True(t, changed)

	got := <-ch
	require.Equal(t, "debug", got.Logging.Level)
	sections, _ := SummarizeChange(&Config{Telegram: TelegramConfig{Token: "a"}}, got)
	require.Equal(t, []string{"logging"}, sections)
}
