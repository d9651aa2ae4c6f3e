package notifier

import (
	"context"
	"time"
)

// Config controls delivery.
type Config struct {
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration // 0 disables dedup
	DedupMaxEntries int
	SendTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// DedupStore persists delivered keys. storage.Store satisfies it.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

// Bus topics.
const (
	TopicSent    = "notifier.sent"
	TopicFailed  = "notifier.failed"
	TopicDeduped = "notifier.deduped"
)

// NotificationEvent is published on the event bus for each outcome.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	Key      string    `json:"key,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
