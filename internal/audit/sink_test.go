package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

// syncBuffer guards a bytes.Buffer for concurrent appends.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func info(id string) SessionInfo {
	return SessionInfo{
		ID:      id,
		Started: time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC),
		Root:    "/srv/notes",
		Query:   "What is an AI agent?",
	}
}

func TestBlock_Layout(t *testing.T) {
	var out syncBuffer
	sink := NewWriterSink(&out, zaptest.NewLogger(t))

	b, err := sink.Open(context.Background(), info("s-1"))
	require.NoError(t, err)
	b.Recordf("[START] 09:30:15")
	_, err = fmt.Fprint(b, "messages: hello")
	require.NoError(t, err)

	assert.Empty(t, out.String(), "nothing reaches the sink before Close")
	require.NoError(t, b.Close())

	want := "\n\n===== New agent run @ 2026-03-01 09:30:15 =====\n" +
		"Session: s-1\n" +
		"Root: /srv/notes\n" +
		separator + "\n\n" +
		"[START] 09:30:15\n" +
		"messages: hello\n" +
		separator + "\n"
	assert.Equal(t, want, out.String())
	assert.Len(t, separator, 70)
}

func TestBlock_CloseIsIdempotent(t *testing.T) {
	var out syncBuffer
	sink := NewWriterSink(&out, zaptest.NewLogger(t))
	b, err := sink.Open(context.Background(), info("s-1"))
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, strings.Count(out.String(), "===== New agent run"))

	_, err = b.Write([]byte("late"))
	assert.ErrorIs(t, err, schemas.ErrAuditSinkUnavailable)
}

func TestSink_ConcurrentBlocksDoNotInterleave(t *testing.T) {
	var out syncBuffer
	sink := NewWriterSink(&out, zaptest.NewLogger(t))

	const sessions, records = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := sink.Open(context.Background(), info(fmt.Sprintf("s-%d", i)))
			if !assert.NoError(t, err) {
				return
			}
			defer b.Close()
			for r := 0; r < records; r++ {
				b.Recordf("session %d record %d", i, r)
			}
		}(i)
	}
	wg.Wait()

	blocks := strings.Split(out.String(), "===== New agent run")[1:]
	require.Len(t, blocks, sessions)
	for _, blk := range blocks {
		var owner string
		for _, line := range strings.Split(blk, "\n") {
			if !strings.HasPrefix(line, "session ") {
				continue
			}
			id := strings.Fields(line)[1]
			if owner == "" {
				owner = id
			}
			assert.Equal(t, owner, id, "records of different sessions interleaved")
		}
	}
}

func TestSink_Unavailable(t *testing.T) {
	sink := NewWriterSink(&syncBuffer{}, zaptest.NewLogger(t))
	require.NoError(t, sink.Close())
	_, err := sink.Open(context.Background(), info("s-1"))
	assert.ErrorIs(t, err, schemas.ErrAuditSinkUnavailable)

	broken := NewWriterSink(failingWriter{}, zaptest.NewLogger(t))
	b, err := broken.Open(context.Background(), info("s-2"))
	require.NoError(t, err)
	assert.ErrorIs(t, b.Close(), schemas.ErrAuditSinkUnavailable)
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "agent_run.log")
	sink := NewFileSink(config.AuditConfig{LogFile: path, MaxSize: 1}, zaptest.NewLogger(t))
	defer sink.Close()

	for _, id := range []string{"s-1", "s-2"} {
		b, err := sink.Open(context.Background(), info(id))
		require.NoError(t, err)
		b.Recordf("messages: %s", id)
		require.NoError(t, b.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "===== New agent run"))
	assert.Less(t, strings.Index(string(data), "Session: s-1"), strings.Index(string(data), "Session: s-2"))
}

func TestFileSink_UnwritableTarget(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	sink := NewFileSink(config.AuditConfig{LogFile: filepath.Join(blocker, "agent_run.log")}, zaptest.NewLogger(t))
	_, err := sink.Open(context.Background(), info("s-1"))
	assert.ErrorIs(t, err, schemas.ErrAuditSinkUnavailable)
}
