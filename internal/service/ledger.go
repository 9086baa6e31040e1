package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// AsyncLedger decouples session recording from the request path. Records are
// queued and persisted by a single consumer goroutine; a full queue drops the
// record rather than slowing the session down.
type AsyncLedger struct {
	inner   schemas.SessionLedger
	records chan schemas.SessionRecord
	wg      sync.WaitGroup
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ schemas.SessionLedger = (*AsyncLedger)(nil)

// NewAsyncLedger starts the consumer for inner.
func NewAsyncLedger(inner schemas.SessionLedger, buffer int, logger *zap.Logger) *AsyncLedger {
	if buffer <= 0 {
		buffer = 64
	}
	l := &AsyncLedger{
		inner:   inner,
		records: make(chan schemas.SessionRecord, buffer),
		logger:  logger.Named("ledger"),
	}
	l.wg.Add(1)
	go l.consume()
	return l
}

// RecordSession queues rec. It never blocks.
func (l *AsyncLedger) RecordSession(_ context.Context, rec schemas.SessionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("Ledger closed; dropping session record.", zap.String("session_id", rec.ID))
		return nil
	}
	select {
	case l.records <- rec:
	default:
		l.logger.Warn("Ledger queue full; dropping session record.", zap.String("session_id", rec.ID))
	}
	return nil
}

// RecentSessions reads through to the underlying ledger.
func (l *AsyncLedger) RecentSessions(ctx context.Context, limit int) ([]schemas.SessionRecord, error) {
	return l.inner.RecentSessions(ctx, limit)
}

// Close stops accepting records and waits up to timeout for the queue to drain.
func (l *AsyncLedger) Close(timeout time.Duration) bool {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.records)
	}
	l.mu.Unlock()
	return timedWait(&l.wg, timeout)
}

func (l *AsyncLedger) consume() {
	defer l.wg.Done()
	for rec := range l.records {
		// Persistence uses its own deadline so a canceled session still lands.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := l.inner.RecordSession(ctx, rec); err != nil {
			l.logger.Error("Failed to persist session record.", zap.String("session_id", rec.ID), zap.Error(err))
		}
		cancel()
	}
}
