package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int64("event_id", 7), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), buf.String())
	require.Equal(t, "hello", m["message"])
	require.Equal(t, "test", m["comp"])
	require.EqualValues(t, 7, m["event_id"])
	require.Equal(t, "boom", m["err"])
	require.True(t, strings.HasPrefix(m["caller"].(string), "logging_test.go:"), m["caller"])
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("a", "1"))
	_ = base.With(String("b", "2"))
	base.Info("x")
	require.NotContains(t, buf.String(), `"b"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	require.Zero(t, buf.Len())
	require.False(t, log.Enabled(LevelDebug))
}

func TestZeroLoggerIsNop(t *testing.T) {
	var log Logger
	require.True(t, log.IsZero())
	require.False(t, Nop().IsZero())
	log.Error("does not panic")
	Nop().Error("does not panic")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	_, ok := ParseLevel(" Warning ")
	require.True(t, ok)
	_, ok = ParseLevel("loud")
	require.False(t, ok)
}

func TestRenderChatLine(t *testing.T) {
	t.Parallel()
	got := renderChatLine([]byte(`{"level":"warn","message":"job missed","time":"x","job_id":"abc","comp":"scheduler"}`))
	require.Equal(t, "[WARN] job missed\n- comp=scheduler\n- job_id=abc", got)

	require.Equal(t, "not json", renderChatLine([]byte(" not json \n")))
	require.Len(t, renderChatLine([]byte(strings.Repeat("x", 5000))), chatLineLimit)
}

type recordingSink struct {
	mu    sync.Mutex
	chat  int64
	lines []string
}

func (r *recordingSink) SendLog(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = chatID
	r.lines = append(r.lines, text)
	return nil
}

func (r *recordingSink) snapshot() (int64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chat, append([]string(nil), r.lines...)
}

func TestServiceMirrorsWarningsToChat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	sink := &recordingSink{}
	svc, log := New(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: path},
		Telegram: TelegramConfig{Enabled: true, ChatID: 42, RatePerSec: 100},
	}, sink)

	log.Info("routine")
	log.Warn("reminder delivery failed", Int64("event_id", 3))

	require.Eventually(t, func() bool {
		_, lines := sink.snapshot()
		return len(lines) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Close())

	chat, lines := sink.snapshot()
	require.Equal(t, int64(42), chat)
	require.Contains(t, lines[0], "[WARN] reminder delivery failed")
	require.Contains(t, lines[0], "event_id=3")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "routine")
	require.Contains(t, string(data), "reminder delivery failed")
}

func TestServiceApplyChangesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	t.Cleanup(func() { _ = svc.Close() })

	child := log.With(String("comp", "x"))
	child.Debug("before")
	require.False(t, child.Enabled(LevelDebug))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	require.True(t, child.Enabled(LevelDebug))
	child.Debug("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "before")
	require.Contains(t, string(data), "after")
}
