package stream

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// -- Test Setup Helpers --

func newTestMultiplexer(t *testing.T, opts Options) (*Multiplexer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	m := NewMultiplexer(&buf, opts, zaptest.NewLogger(t))
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC) }
	return m, &buf
}

func feed(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func msg(role schemas.Role, content string) MessagePayload {
	return MessagePayload{Message: schemas.Message{Role: role, Content: content}}
}

func lines(buf *bytes.Buffer) []string {
	var out []string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// -- Test Cases: Events --

func TestNew_PicksVariant(t *testing.T) {
	e := New(nil, ModeMessages, msg(schemas.RoleUser, "hi"))
	assert.IsType(t, TopLevel{}, e)

	ns := []string{"privileged:c1"}
	e = New(ns, ModeUpdates, UpdateRecord{Node: NodeTools})
	nested, ok := e.(Nested)
	require.True(t, ok)
	ns[0] = "mutated"
	assert.Equal(t, []string{"privileged:c1"}, nested.Path, "the event must own its path")
}

func TestContextNamespaceAndEmitter(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, NamespaceFrom(ctx))
	assert.Nil(t, EmitterFrom(ctx))

	ctx = Descend(Descend(ctx, "privileged:a"), "privileged:b")
	assert.Equal(t, []string{"privileged:a", "privileged:b"}, NamespaceFrom(ctx))

	var got []Event
	ctx = WithEmitter(ctx, func(e Event) { got = append(got, e) })
	EmitterFrom(ctx)(TopLevel{Mode: ModeMessages})
	assert.Len(t, got, 1)
}

func TestChannelEmitter_GivesUpWhenDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Event)
	emit := ChannelEmitter(ctx, ch)
	cancel()

	done := make(chan struct{})
	go func() {
		emit(TopLevel{Mode: ModeMessages})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked after the context was canceled")
	}
}

// -- Test Cases: Multiplexer --

func TestConsume_RendersInOrder(t *testing.T) {
	m, buf := newTestMultiplexer(t, Options{})
	invocation := schemas.Message{Role: schemas.RoleAssistant, Capability: "delegate_write_task", CallID: "c1",
		Arguments: map[string]string{"task": "Write 'hello' to test.txt"}}
	result := schemas.Message{Role: schemas.RoleToolResult, Capability: "write_file", Content: "wrote 5 bytes to test.txt"}

	stats, err := m.Consume(context.Background(), feed(
		New(nil, ModeMessages, msg(schemas.RoleUser, "Write 'hello' to test.txt")),
		New(nil, ModeMessages, MessagePayload{Message: invocation}),
		New(nil, ModeUpdates, UpdateRecord{Node: NodeModel, Messages: []schemas.Message{invocation}}),
		New([]string{"privileged:c1"}, ModeMessages, msg(schemas.RoleUser, "Write 'hello' to test.txt")),
		New([]string{"privileged:c1"}, ModeUpdates, UpdateRecord{Node: NodeTools, Messages: []schemas.Message{result}}),
		New(nil, ModeMessages, msg(schemas.RoleAssistant, "   ")),
		New(nil, ModeMessages, msg(schemas.RoleAssistant, "Done.")),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"[START] 09:30:15",
		"messages: Write 'hello' to test.txt",
		`messages: invoke delegate_write_task {"task":"Write 'hello' to test.txt"}`,
		`[main] update → model: call delegate_write_task {"task":"Write 'hello' to test.txt"}`,
		"[privileged:c1] messages: Write 'hello' to test.txt",
		"[privileged:c1] update → tools: write_file → wrote 5 bytes to test.txt",
		"messages: Done.",
		"[END] 09:30:15  (chunks: 7)",
	}, lines(buf))
	assert.Equal(t, Stats{Chunks: 7, Messages: 5, Updates: 2}, stats)
}

func TestConsume_TruncatesPreviews(t *testing.T) {
	m, buf := newTestMultiplexer(t, Options{MessagePreview: 5, UpdatePreview: 10})
	_, err := m.Consume(context.Background(), feed(
		New(nil, ModeMessages, msg(schemas.RoleAssistant, "héllo wörld")),
		New(nil, ModeUpdates, UpdateRecord{Node: NodeModel, Messages: []schemas.Message{{Role: schemas.RoleAssistant, Content: "a long answer"}}}),
	))
	require.NoError(t, err)
	out := lines(buf)
	assert.Equal(t, "messages: héllo…", out[1])
	assert.Equal(t, "[main] update → model: ass…", out[2])
}

func TestConsume_MalformedEventsAreRecorded(t *testing.T) {
	m, buf := newTestMultiplexer(t, Options{})
	stats, err := m.Consume(context.Background(), feed(
		nil,
		TopLevel{Mode: "values", Payload: msg(schemas.RoleUser, "x")},
		TopLevel{Mode: ModeMessages, Payload: UpdateRecord{Node: NodeModel}},
		Nested{Path: []string{"p"}, Mode: ModeUpdates},
		New(nil, ModeMessages, msg(schemas.RoleAssistant, "still here")),
	))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Unparsed)
	assert.Equal(t, 1, stats.Messages)

	out := buf.String()
	assert.Equal(t, 4, strings.Count(out, "unparsed event: "))
	assert.Contains(t, out, "messages: still here")
	assert.Contains(t, out, "(chunks: 5)")
}

func TestConsume_RecoversFromRenderFailures(t *testing.T) {
	m, buf := newTestMultiplexer(t, Options{})
	calls := 0
	m.render = func(e Event) (string, error) {
		calls++
		switch calls {
		case 1:
			panic("renderer exploded")
		case 2:
			return "", errors.New("disk hiccup")
		}
		return m.renderEvent(e)
	}

	stats, err := m.Consume(context.Background(), feed(
		New(nil, ModeMessages, msg(schemas.RoleUser, "one")),
		New(nil, ModeMessages, msg(schemas.RoleUser, "two")),
		New(nil, ModeMessages, msg(schemas.RoleUser, "three")),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 1, stats.Messages)
	out := buf.String()
	assert.Contains(t, out, "chunk 1 error: renderer exploded")
	assert.Contains(t, out, "chunk 2 error: disk hiccup")
	assert.Contains(t, out, "messages: three")
}

func TestConsume_Canceled(t *testing.T) {
	m, buf := newTestMultiplexer(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Consume(ctx, make(chan Event))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, buf.String(), "[END]", "the end marker is written on every exit")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", Preview("abc", 3))
	assert.Equal(t, "ab…", Preview("abc", 2))
	assert.Equal(t, "abc", Preview("abc", 0))
	assert.Equal(t, strings.Repeat("x", 600)+"…", Preview(strings.Repeat("x", 601), 600))
}
