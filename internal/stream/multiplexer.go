package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options bound the length of rendered records.
type Options struct {
	MessagePreview int
	UpdatePreview  int
}

func (o Options) withDefaults() Options {
	if o.MessagePreview <= 0 {
		o.MessagePreview = 600
	}
	if o.UpdatePreview <= 0 {
		o.UpdatePreview = 300
	}
	return o
}

// Stats counts what a Consume call saw.
type Stats struct {
	Chunks   int
	Messages int
	Updates  int
	Unparsed int
	Errors   int
}

// Multiplexer renders one session's events into its audit block.
type Multiplexer struct {
	out    io.Writer
	opts   Options
	logger *zap.Logger
	now    func() time.Time
	render func(Event) (string, error)
}

// NewMultiplexer returns a Multiplexer writing to out.
func NewMultiplexer(out io.Writer, opts Options, logger *zap.Logger) *Multiplexer {
	m := &Multiplexer{
		out:    out,
		opts:   opts.withDefaults(),
		logger: logger.Named("stream"),
		now:    time.Now,
	}
	m.render = m.renderEvent
	return m
}

// Consume drains events until the channel is closed or ctx is done. Failures
// while rendering one event are recorded and never stop consumption. The
// returned error is ctx.Err() when consumption was cut short.
func (m *Multiplexer) Consume(ctx context.Context, events <-chan Event) (stats Stats, err error) {
	m.writef("[START] %s\n\n", m.now().Format("15:04:05"))
	defer func() {
		m.writef("\n[END] %s  (chunks: %d)\n\n", m.now().Format("15:04:05"), stats.Chunks)
	}()

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case e, ok := <-events:
			if !ok {
				return stats, nil
			}
			stats.Chunks++
			m.handle(stats.Chunks, e, &stats)
		}
	}
}

func (m *Multiplexer) handle(n int, e Event, stats *Stats) {
	defer func() {
		if r := recover(); r != nil {
			stats.Errors++
			m.logger.Error("Panic recovered while rendering stream event", zap.Int("chunk", n), zap.Any("panic_value", r))
			m.writef("chunk %d error: %v\n", n, r)
		}
	}()

	line, err := m.render(e)
	switch {
	case errors.Is(err, schemas.ErrMalformedEvent):
		stats.Unparsed++
		m.writef("unparsed event: %v\n", err)
		return
	case err != nil:
		stats.Errors++
		m.writef("chunk %d error: %v\n", n, err)
		return
	case line == "":
		return
	}

	if _, werr := io.WriteString(m.out, line+"\n"); werr != nil {
		stats.Errors++
		m.logger.Warn("Failed to write stream record", zap.Int("chunk", n), zap.Error(werr))
		return
	}
	switch modeOf(e) {
	case ModeMessages:
		stats.Messages++
	case ModeUpdates:
		stats.Updates++
	}
}

func (m *Multiplexer) renderEvent(e Event) (string, error) {
	var (
		ns      []string
		mode    Mode
		payload Payload
	)
	switch ev := e.(type) {
	case TopLevel:
		mode, payload = ev.Mode, ev.Payload
	case Nested:
		ns, mode, payload = ev.Path, ev.Mode, ev.Payload
	case nil:
		return "", fmt.Errorf("%w: nil event", schemas.ErrMalformedEvent)
	default:
		return "", fmt.Errorf("%w: unknown event type %T", schemas.ErrMalformedEvent, e)
	}

	switch mode {
	case ModeMessages:
		p, ok := payload.(MessagePayload)
		if !ok {
			return "", fmt.Errorf("%w: messages event carries %T", schemas.ErrMalformedEvent, payload)
		}
		content := messageText(p.Message)
		if strings.TrimSpace(content) == "" {
			return "", nil
		}
		prefix := ""
		if len(ns) > 0 {
			prefix = "[" + Label(ns) + "] "
		}
		return fmt.Sprintf("%s%s: %s", prefix, ModeMessages, Preview(content, m.opts.MessagePreview)), nil

	case ModeUpdates:
		p, ok := payload.(UpdateRecord)
		if !ok {
			return "", fmt.Errorf("%w: updates event carries %T", schemas.ErrMalformedEvent, payload)
		}
		label := "main"
		if len(ns) > 0 {
			label = Label(ns)
		}
		return fmt.Sprintf("[%s] update → %s", label, Preview(summarize(p), m.opts.UpdatePreview)), nil

	default:
		return "", fmt.Errorf("%w: unknown mode %q", schemas.ErrMalformedEvent, mode)
	}
}

// messageText is what a messages record shows: the content, or the requested
// capability when the message is a bare invocation.
func messageText(msg schemas.Message) string {
	if msg.IsInvocation() && strings.TrimSpace(msg.Content) == "" {
		return fmt.Sprintf("invoke %s %s", msg.Capability, formatArgs(msg.Arguments))
	}
	return msg.Content
}

func summarize(u UpdateRecord) string {
	parts := make([]string, 0, len(u.Messages))
	for _, msg := range u.Messages {
		switch {
		case msg.IsInvocation():
			parts = append(parts, fmt.Sprintf("call %s %s", msg.Capability, formatArgs(msg.Arguments)))
		case msg.Role == schemas.RoleToolResult && msg.ErrorCode != "":
			parts = append(parts, fmt.Sprintf("%s [%s] %s", msg.Capability, msg.ErrorCode, oneLine(msg.Content)))
		case msg.Role == schemas.RoleToolResult:
			parts = append(parts, fmt.Sprintf("%s → %s", msg.Capability, oneLine(msg.Content)))
		default:
			parts = append(parts, fmt.Sprintf("%s: %s", msg.Role, oneLine(msg.Content)))
		}
	}
	return u.Node + ": " + strings.Join(parts, "; ")
}

func formatArgs(args map[string]string) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(b)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Preview cuts s to at most n runes, marking the cut with a trailing ellipsis.
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

func modeOf(e Event) Mode {
	switch ev := e.(type) {
	case TopLevel:
		return ev.Mode
	case Nested:
		return ev.Mode
	}
	return ""
}

func (m *Multiplexer) writef(format string, args ...any) {
	if _, err := fmt.Fprintf(m.out, format, args...); err != nil {
		m.logger.Warn("Failed to write stream record", zap.Error(err))
	}
}
