// Package audit is the append-only record of every query session. Each
// session gets a Block; a block reaches the underlying file in one piece when
// it is closed, so concurrent sessions never interleave.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

const separator = "----------------------------------------------------------------------"

// SessionInfo identifies the session a block belongs to.
type SessionInfo struct {
	ID      string
	Started time.Time
	Root    string
	Query   string
}

// Sink serializes blocks onto one writer.
type Sink struct {
	logger *zap.Logger
	probe  func() error

	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	closed bool
}

// NewFileSink returns a sink appending to cfg.LogFile, rotated by lumberjack.
func NewFileSink(cfg config.AuditConfig, logger *zap.Logger) *Sink {
	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	s := &Sink{
		logger: logger.Named("audit"),
		out:    lj,
		closer: lj,
	}
	s.probe = func() error { return probeFile(cfg.LogFile) }
	return s
}

// NewWriterSink returns a sink appending to w.
func NewWriterSink(w io.Writer, logger *zap.Logger) *Sink {
	s := &Sink{logger: logger.Named("audit"), out: w}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// probeFile checks the audit file can be opened for appending.
func probeFile(path string) error {
	if path == "" {
		return errors.New("no audit log file configured")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Open starts the block for one session.
func (s *Sink) Open(ctx context.Context, info SessionInfo) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: sink is closed", schemas.ErrAuditSinkUnavailable)
	}
	if s.probe != nil {
		if err := s.probe(); err != nil {
			return nil, fmt.Errorf("%w: %v", schemas.ErrAuditSinkUnavailable, err)
		}
	}
	if info.Started.IsZero() {
		info.Started = time.Now()
	}
	s.logger.Debug("Opened audit block", zap.String("session_id", info.ID))
	return &Block{sink: s, info: info}, nil
}

// Close releases the underlying writer. Blocks still open fail on Close.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *Sink) append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: sink is closed", schemas.ErrAuditSinkUnavailable)
	}
	if _, err := s.out.Write(data); err != nil {
		return fmt.Errorf("%w: %v", schemas.ErrAuditSinkUnavailable, err)
	}
	return nil
}

// Block collects the records of one session. It is safe for concurrent use.
type Block struct {
	sink *Sink
	info SessionInfo

	mu       sync.Mutex
	buf      bytes.Buffer
	released bool
	closeErr error
}

// Info returns the session the block belongs to.
func (b *Block) Info() SessionInfo { return b.info }

// Write appends to the block's records.
func (b *Block) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0, fmt.Errorf("%w: block already closed", schemas.ErrAuditSinkUnavailable)
	}
	return b.buf.Write(p)
}

// Recordf writes one formatted record line.
func (b *Block) Recordf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, _ = b.Write([]byte(line))
}

// Close writes the delimited block to the sink. Later calls return the result
// of the first.
func (b *Block) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return b.closeErr
	}
	b.released = true

	var out bytes.Buffer
	fmt.Fprintf(&out, "\n\n===== New agent run @ %s =====\n", b.info.Started.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&out, "Session: %s\n", b.info.ID)
	fmt.Fprintf(&out, "Root: %s\n", b.info.Root)
	out.WriteString(separator + "\n\n")
	out.Write(b.buf.Bytes())
	if b.buf.Len() > 0 && !bytes.HasSuffix(b.buf.Bytes(), []byte("\n")) {
		out.WriteByte('\n')
	}
	out.WriteString(separator + "\n")
	b.buf.Reset()

	b.closeErr = b.sink.append(out.Bytes())
	if b.closeErr != nil {
		b.sink.logger.Error("Failed to append audit block", zap.String("session_id", b.info.ID), zap.Error(b.closeErr))
	}
	return b.closeErr
}
