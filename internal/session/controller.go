// Package session runs one user query end to end: a streamed pass whose
// events are rendered into the audit sink, then the answer pass whose result
// is returned to the caller.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/agent"
	"github.com/xkilldash9x/tandem-cli/internal/audit"
	"github.com/xkilldash9x/tandem-cli/internal/stream"
)

// State is the lifecycle position of a session.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Asker is the agent a session talks to.
type Asker interface {
	Ask(ctx context.Context, query string) (agent.Result, error)
	Stream(ctx context.Context, query string, emit stream.Emitter) (agent.Result, error)
}

// Options tune a Controller.
type Options struct {
	// Root is the sandbox root written into each audit block.
	Root string
	// ReuseStreamedAnswer skips the answer pass and returns what the streamed
	// pass produced.
	ReuseStreamedAnswer bool
	// Timeout bounds a whole session when positive.
	Timeout time.Duration
	Stream  stream.Options
	// EventBuffer is the capacity of the channel between producer and consumer.
	EventBuffer int
}

// Controller runs query sessions. It is safe for concurrent use; each call
// to AskAgent gets its own audit block.
type Controller struct {
	agent  Asker
	sink   *audit.Sink
	ledger schemas.SessionLedger
	opts   Options
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewController builds a controller. ledger may be nil.
func NewController(a Asker, sink *audit.Sink, ledger schemas.SessionLedger, opts Options, logger *zap.Logger) *Controller {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Controller{
		agent:  a,
		sink:   sink,
		ledger: ledger,
		opts:   opts,
		logger: logger.Named("session"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// AskAgent answers query. Only ErrAuditSinkUnavailable, ErrEngineUnavailable
// and context errors are returned; every other failure is part of the answer
// text.
func (c *Controller) AskAgent(ctx context.Context, query string) (answer string, err error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	id := c.newID()
	s := &tracker{id: id, logger: c.logger.With(zap.String("session_id", id))}
	s.enter(StateInit)
	started := c.now()

	block, err := c.sink.Open(ctx, audit.SessionInfo{ID: s.id, Started: started, Root: c.opts.Root, Query: query})
	if err != nil {
		s.logger.Error("Failed to open audit block", zap.Error(err))
		return "", err
	}
	defer func() {
		if cerr := block.Close(); cerr != nil {
			s.logger.Error("Failed to write audit block", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
		s.enter(StateDone)
	}()

	s.enter(StateStreaming)
	streamed, streamErr := c.streamPass(ctx, s, query, block)
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.record(s, query, started, agent.Result{}, true)
		return "", ctxErr
	}
	if streamErr != nil {
		block.Recordf("stream error: %v", streamErr)
	}

	s.enter(StateFinalizing)
	res := streamed
	if !c.opts.ReuseStreamedAnswer || streamErr != nil {
		res, err = c.agent.Ask(ctx, query)
		if err != nil {
			s.logger.Error("Answer pass failed", zap.Error(err))
			c.record(s, query, started, res, true)
			return "", err
		}
	}

	answer = strings.TrimSpace(res.Answer)
	c.record(s, query, started, res, false)
	return answer, nil
}

// streamPass runs the agent with an emitter feeding the multiplexer. The
// producer and the consumer share one errgroup; per-event failures are
// absorbed by the multiplexer.
func (c *Controller) streamPass(ctx context.Context, s *tracker, query string, block *audit.Block) (agent.Result, error) {
	events := make(chan stream.Event, c.opts.EventBuffer)
	mux := stream.NewMultiplexer(block, c.opts.Stream, s.logger)

	var (
		res    agent.Result
		runErr error
		stats  stream.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		res, runErr = c.agent.Stream(gctx, query, stream.ChannelEmitter(gctx, events))
		return nil
	})
	g.Go(func() error {
		var err error
		stats, err = mux.Consume(gctx, events)
		return err
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("Stream consumer stopped early", zap.Error(err))
	}

	s.logger.Debug("Streamed pass finished",
		zap.Int("chunks", stats.Chunks),
		zap.Int("unparsed", stats.Unparsed),
		zap.Int("errors", stats.Errors),
		zap.Bool("terminated", res.Terminated))
	if runErr != nil {
		s.logger.Warn("Streamed pass failed", zap.Error(runErr))
	}
	return res, runErr
}

func (c *Controller) record(s *tracker, query string, started time.Time, res agent.Result, failed bool) {
	if c.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := schemas.SessionRecord{
		ID:          s.id,
		Query:       query,
		Answer:      strings.TrimSpace(res.Answer),
		Root:        c.opts.Root,
		Terminated:  res.Terminated,
		Delegations: Delegations(res.Conversation),
		Failed:      failed,
		StartedAt:   started.UnixMilli(),
		FinishedAt:  c.now().UnixMilli(),
	}
	if err := c.ledger.RecordSession(ctx, rec); err != nil {
		s.logger.Warn("Failed to record session in ledger", zap.Error(err))
	}
}

// Delegations counts gateway invocations in conv.
func Delegations(conv schemas.Conversation) int {
	n := 0
	for _, m := range conv {
		if m.IsInvocation() && m.Capability == agent.GatewayName {
			n++
		}
	}
	return n
}

type tracker struct {
	id     string
	state  State
	logger *zap.Logger
}

func (t *tracker) enter(s State) {
	t.state = s
	t.logger.Debug("Session state", zap.Stringer("state", s))
}
