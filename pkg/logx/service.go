package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors lines at MinLevel and above into an operator chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string
	RatePerSec int
}

// Sink delivers a rendered log line to a chat.
type Sink interface {
	SendLog(ctx context.Context, chatID int64, text string) error
}

const defaultLogFile = "./remindbot.log"

// Service owns the process log outputs. Apply rebuilds them in place; every
// Logger derived from the Service picks up the change on its next line.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	cfg  Config
	file *os.File
	chat *chatSink
}

// New applies cfg and returns the service with its root logger. sink may be
// nil, in which case the chat mirror stays off.
func New(cfg Config, sink Sink) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	if sink != nil {
		s.chat = newChatSink(sink)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply swaps level and outputs. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if s.chat != nil {
		if w := s.chat.configure(cfg.Telegram); w != nil {
			writers = append(writers, w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the chat mirror and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	chat := s.chat
	s.mu.Unlock()

	if chat != nil {
		chat.close()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

var _ zerolog.LevelWriter = (*chatSink)(nil)

// chatSink forwards filtered JSON lines to a Sink from a single goroutine.
// Writes never block: lines over the rate limit or a full queue are dropped.
type chatSink struct {
	sink  Sink
	queue chan string

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newChatSink(sink Sink) *chatSink {
	return &chatSink{sink: sink, queue: make(chan string, 128)}
}

// configure returns the writer to install, or nil when the mirror is off.
func (c *chatSink) configure(cfg TelegramConfig) io.Writer {
	rps := max(cfg.RatePerSec, 1)
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if !cfg.Enabled || cfg.ChatID == 0 {
		return nil
	}
	c.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.run(ctx)
	})
	return c
}

func (c *chatSink) close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-c.queue:
			c.mu.Lock()
			chatID := c.chatID
			c.mu.Unlock()
			if chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			_ = c.sink.SendLog(sctx, chatID, line)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	allow := level >= c.minLevel && c.limiter != nil && c.limiter.Allow()
	c.mu.Unlock()
	if !allow {
		return len(p), nil
	}
	if line := renderChatLine(p); line != "" {
		select {
		case c.queue <- line:
		default:
		}
	}
	return len(p), nil
}
