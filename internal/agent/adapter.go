package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/stream"
)

// RunConfig is what one adapter run needs to know about the agent driving it.
type RunConfig struct {
	Name              string
	SystemInstruction string
	Allowed           capability.Set
	TurnBudget        int
	Tier              schemas.ModelTier
}

// Result is the outcome of a run.
type Result struct {
	Conversation schemas.Conversation
	// Terminated is false when the turn budget ran out before a final answer.
	Terminated bool
	Answer     string
	Turns      int
}

// Adapter drives the engine through the decide, invoke, observe loop.
type Adapter struct {
	engine        schemas.Engine
	engineTimeout time.Duration
	logger        *zap.Logger
}

// NewAdapter wraps an engine. engineTimeout bounds every single engine call.
func NewAdapter(engine schemas.Engine, engineTimeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		engine:        engine,
		engineTimeout: engineTimeout,
		logger:        logger.Named("adapter"),
	}
}

// Run continues conv until the engine answers or cfg.TurnBudget turns are
// spent. emit may be nil. Timeouts and malformed replies cost a turn and are fed
// back to the engine, as are capability failures. Any other engine failure is
// fatal and wrapped in ErrEngineUnavailable.
func (a *Adapter) Run(ctx context.Context, conv schemas.Conversation, cfg RunConfig, emit stream.Emitter) (Result, error) {
	if cfg.TurnBudget <= 0 {
		return Result{}, fmt.Errorf("%w: turn budget must be positive", schemas.ErrInvalidArguments)
	}
	logger := a.logger.With(zap.String("agent", cfg.Name), zap.String("namespace", stream.Label(stream.NamespaceFrom(ctx))))

	r := &run{
		conv: conv.Clone(),
		emit: emit,
		ns:   stream.NamespaceFrom(ctx),
	}
	ctx = capability.WithCaller(ctx, cfg.Name)
	ctx = stream.WithEmitter(ctx, emit)

	for _, m := range r.conv {
		r.emitMessage(m)
	}

	for turn := 1; turn <= cfg.TurnBudget; turn++ {
		if err := ctx.Err(); err != nil {
			return r.result(false, "", turn-1), err
		}

		step, err := a.next(ctx, cfg, r.conv)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.result(false, "", turn-1), ctxErr
			}
			switch {
			case errors.Is(err, schemas.ErrMalformedReply):
				logger.Warn("Reasoning engine replied malformed", zap.Int("turn", turn), zap.Error(err))
				r.append(stream.NodeModel, schemas.Message{
					Role:      schemas.RoleToolResult,
					Content:   fmt.Sprintf("error: %v; reply again following the response format", err),
					ErrorCode: schemas.CodeInvalidArguments,
				})
			case isTimeout(err):
				logger.Warn("Reasoning engine timed out", zap.Int("turn", turn), zap.Duration("timeout", a.engineTimeout))
				r.append(stream.NodeModel, schemas.Message{
					Role:      schemas.RoleToolResult,
					Content:   fmt.Sprintf("error: %v: the reasoning step exceeded %s; continue with what you have", schemas.ErrTimeout, a.engineTimeout),
					ErrorCode: schemas.CodeTimeout,
				})
			default:
				logger.Error("Reasoning engine failed", zap.Int("turn", turn), zap.Error(err))
				return r.result(false, "", turn), fmt.Errorf("%w: %v", schemas.ErrEngineUnavailable, err)
			}
			continue
		}

		if !step.IsInvocation() {
			r.append(stream.NodeModel, schemas.Message{Role: schemas.RoleAssistant, Content: step.Answer})
			logger.Debug("Agent answered", zap.Int("turns", turn))
			return r.result(true, strings.TrimSpace(step.Answer), turn), nil
		}

		inv := *step.Invocation
		if inv.CallID == "" {
			inv.CallID = uuid.NewString()
		}
		r.append(stream.NodeModel, schemas.Message{
			Role:       schemas.RoleAssistant,
			Content:    step.Thought,
			Capability: inv.Capability,
			CallID:     inv.CallID,
			Arguments:  inv.Arguments,
		})
		r.append(stream.NodeTools, a.invoke(ctx, cfg, inv, logger))
	}

	logger.Info("Turn budget exhausted", zap.Int("turn_budget", cfg.TurnBudget))
	answer := strings.TrimSpace(r.conv.FinalAnswer())
	if answer == "" {
		answer = fmt.Sprintf("I could not finish within the budget of %d turns and have no partial answer to report.", cfg.TurnBudget)
	}
	return r.result(false, answer, cfg.TurnBudget), nil
}

func (a *Adapter) next(ctx context.Context, cfg RunConfig, conv schemas.Conversation) (schemas.NextStep, error) {
	callCtx := ctx
	if a.engineTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.engineTimeout)
		defer cancel()
	}
	return a.engine.Next(callCtx, schemas.EngineRequest{
		SystemInstruction: cfg.SystemInstruction,
		Capabilities:      cfg.Allowed.Descriptors(),
		Conversation:      conv.Clone(),
		Tier:              cfg.Tier,
	})
}

func (a *Adapter) invoke(ctx context.Context, cfg RunConfig, inv schemas.Invocation, logger *zap.Logger) schemas.Message {
	res := schemas.Message{
		Role:       schemas.RoleToolResult,
		Capability: inv.Capability,
		CallID:     inv.CallID,
	}
	out, err := cfg.Allowed.Invoke(capability.WithCallID(ctx, inv.CallID), inv.Capability, capability.Args(inv.Arguments))
	if err != nil {
		res.Content = "error: " + err.Error()
		res.ErrorCode = schemas.CodeFor(err)
		logger.Debug("Capability failed",
			zap.String("capability", inv.Capability),
			zap.String("code", string(res.ErrorCode)),
			zap.Error(err))
		return res
	}
	res.Content = out
	return res
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, schemas.ErrTimeout)
}

// run is the mutable state of one Adapter.Run call.
type run struct {
	conv schemas.Conversation
	emit stream.Emitter
	ns   []string
}

func (r *run) append(node string, m schemas.Message) {
	r.conv.Append(m)
	r.emitMessage(m)
	if r.emit != nil {
		r.emit(stream.New(r.ns, stream.ModeUpdates, stream.UpdateRecord{Node: node, Messages: []schemas.Message{m}}))
	}
}

func (r *run) emitMessage(m schemas.Message) {
	if r.emit != nil {
		r.emit(stream.New(r.ns, stream.ModeMessages, stream.MessagePayload{Message: m}))
	}
}

func (r *run) result(terminated bool, answer string, turns int) Result {
	return Result{Conversation: r.conv, Terminated: terminated, Answer: answer, Turns: turns}
}
