package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier: no adapter")

const (
	historySize  = 300
	dedupTimeout = 250 * time.Millisecond
)

// Service sends messages synchronously with rate limiting, retry and dedup.
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	adapter transport.Adapter

	store DedupStore
	bus   eventbus.Bus
	log   logx.Logger

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter transport.Adapter, store DedupStore, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		store:   store,
		bus:     bus,
		log:     log.With(logx.String("comp", "notifier")),
		dedup:   map[string]time.Time{},
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the delivery settings. In-flight sends keep the old ones.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	// Burst = rate so short spikes are not delayed.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Send delivers text to a chat. See SendTo.
func (s *Service) Send(ctx context.Context, chatID int64, text, key string) error {
	return s.SendTo(ctx, transport.ChatTarget{ChatID: chatID}, text, key)
}

// SendTo delivers text, retrying failures. A non-empty key already delivered
// within the dedup window is skipped and reported as success.
func (s *Service) SendTo(ctx context.Context, to transport.ChatTarget, text, key string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.mu.Lock()
	cfg, lim, ad := s.cfg, s.limiter, s.adapter
	s.mu.Unlock()
	if ad == nil {
		return ErrNoAdapter
	}

	dedupOn := key != "" && cfg.DedupWindow > 0
	if dedupOn && s.delivered(ctx, key) {
		s.log.Debug("duplicate delivery suppressed", logx.String("key", key), logx.Int64("chat_id", to.ChatID))
		s.publish(TopicDeduped, NotificationEvent{ChatID: to.ChatID, Key: key})
		return nil
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := ad.SendText(callCtx, to, text, nil)
		cancel()
		if err == nil {
			if dedupOn {
				s.remember(ctx, key, time.Now().Add(cfg.DedupWindow), cfg.DedupMaxEntries)
			}
			s.appendHistory(to.ChatID, text)
			s.publish(TopicSent, NotificationEvent{ChatID: to.ChatID, Key: key, Attempts: attempt})
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt == maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	s.publish(TopicFailed, NotificationEvent{ChatID: to.ChatID, Key: key, Attempts: maxAttempts, Error: lastErr.Error()})
	return fmt.Errorf("send to %d after %d attempts: %w", to.ChatID, maxAttempts, lastErr)
}

// delivered checks memory first, then the store. A store error allows the send.
func (s *Service) delivered(ctx context.Context, key string) bool {
	now := time.Now()
	s.dmu.Lock()
	until, ok := s.dedup[key]
	s.dmu.Unlock()
	if ok && now.Before(until) {
		return true
	}
	if s.store == nil {
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, dedupTimeout)
	until, ok, err := s.store.GetDedup(cctx, key)
	cancel()
	if err != nil {
		s.log.Warn("dedup lookup failed", logx.String("key", key), logx.Err(err))
		return false
	}
	if !ok || !now.Before(until) {
		return false
	}
	s.dmu.Lock()
	s.dedup[key] = until
	s.dmu.Unlock()
	return true
}

// remember records key in memory and persists it before Send returns.
func (s *Service) remember(ctx context.Context, key string, until time.Time, maxEntries int) {
	now := time.Now()
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			oldest string
			minT   time.Time
		)
		for k, u := range s.dedup {
			if oldest == "" || u.Before(minT) {
				oldest, minT = k, u
			}
		}
		delete(s.dedup, oldest)
	}
	s.dmu.Unlock()

	if s.store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dedupTimeout)
	defer cancel()
	if err := s.store.PutDedup(cctx, key, until); err != nil {
		s.log.Warn("dedup persist failed", logx.String("key", key), logx.Err(err))
	}
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(chatID int64, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(topic string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev.At = now
	s.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: ev})
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), capped, with
// 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
