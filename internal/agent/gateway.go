package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/stream"
)

// GatewayName is the capability through which the restricted agent reaches
// the privileged one.
const GatewayName = "delegate_write_task"

// TaskObserver sees every task forwarded by the gateway.
type TaskObserver func(callID, task string)

// Gateway is the only path from the restricted agent to the privileged one.
type Gateway struct {
	target  *Agent
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.RWMutex
	observers []TaskObserver
	forwarded atomic.Int64
}

// NewGateway forwards tasks to target. timeout bounds one whole delegated run;
// zero falls back to the registry's invocation timeout.
func NewGateway(target *Agent, timeout time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		target:  target,
		timeout: timeout,
		logger:  logger.Named("gateway"),
	}
}

// Name returns the gateway capability name.
func (g *Gateway) Name() string { return GatewayName }

// OnTask registers an observer for forwarded tasks.
func (g *Gateway) OnTask(o TaskObserver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
}

// Forwarded returns how many tasks have been delegated so far.
func (g *Gateway) Forwarded() int64 { return g.forwarded.Load() }

// Capability returns the registrable gateway capability.
func (g *Gateway) Capability() capability.Capability {
	return capability.Capability{
		CapabilityDescriptor: schemas.CapabilityDescriptor{
			Name:        GatewayName,
			Description: "Use ONLY when your own planning requires creating, editing, renaming or deleting a file. Returns the write agent's final answer.",
			Kind:        schemas.KindDelegate,
			Parameters: []schemas.ParameterSpec{
				{Name: "task", Description: "One precise instruction for the write agent.", Required: true},
			},
		},
		Invoke: func(ctx context.Context, args capability.Args) (string, error) {
			return g.Delegate(ctx, args.Get("task")), nil
		},
		Timeout: g.timeout,
	}
}

// Delegate runs task as the sole user message of a fresh privileged
// conversation and returns only its final answer. Failures come back as text.
// If ctx carries an emitter the privileged run streams under a nested
// namespace keyed by the call id.
func (g *Gateway) Delegate(ctx context.Context, task string) string {
	callID := capability.CallIDFrom(ctx)
	if callID == "" {
		callID = uuid.NewString()
	}
	g.forwarded.Add(1)
	g.notify(callID, task)

	logger := g.logger.With(zap.String("call_id", callID))
	logger.Info("Delegating task", zap.Int("task_bytes", len(task)))

	child := stream.Descend(ctx, "privileged:"+callID)
	res, err := g.target.Stream(child, task, stream.EmitterFrom(ctx))
	if err != nil {
		logger.Warn("Delegated run failed", zap.Error(err))
		return "delegation failed: " + err.Error()
	}
	logger.Debug("Delegated run finished", zap.Bool("terminated", res.Terminated), zap.Int("turns", res.Turns))
	return res.Answer
}

func (g *Gateway) notify(callID, task string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, o := range g.observers {
		o(callID, task)
	}
}
