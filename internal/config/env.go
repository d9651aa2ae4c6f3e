package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. REMINDBOT_TELEGRAM_TOKEN.
const EnvPrefix = "REMINDBOT"

type envOverrides struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	Timezone      string `envconfig:"TIMEZONE"`
}

// ApplyEnv overlays environment variables on cfg. Unset variables leave the
// file values untouched, so secrets can stay out of the config file.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if v := strings.TrimSpace(env.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(env.StoragePath); v != "" {
		cfg.Storage.Path = v
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(env.Timezone); v != "" {
		cfg.Reminders.Timezone = v
	}
	return nil
}
