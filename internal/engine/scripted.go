// Package engine holds reasoning engines that do not talk to a model SDK
// directly: a scripted engine for tests and dry runs, and an engine that
// drives any text completion client through a JSON decision protocol.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// Turn produces one scripted step. It sees the full request so a script can
// assert on what the engine was shown.
type Turn func(ctx context.Context, req schemas.EngineRequest) (schemas.NextStep, error)

// Answer returns a Turn that ends the run with text.
func Answer(text string) Turn {
	return func(context.Context, schemas.EngineRequest) (schemas.NextStep, error) {
		return schemas.NextStep{Answer: text}, nil
	}
}

// Invoke returns a Turn that requests capability with alternating key/value
// arguments.
func Invoke(capability string, kv ...string) Turn {
	args := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		args[kv[i]] = kv[i+1]
	}
	return func(context.Context, schemas.EngineRequest) (schemas.NextStep, error) {
		a := make(map[string]string, len(args))
		for k, v := range args {
			a[k] = v
		}
		return schemas.NextStep{Invocation: &schemas.Invocation{
			CallID:     uuid.NewString(),
			Capability: capability,
			Arguments:  a,
		}}, nil
	}
}

// Fail returns a Turn that fails with err.
func Fail(err error) Turn {
	return func(context.Context, schemas.EngineRequest) (schemas.NextStep, error) {
		return schemas.NextStep{}, err
	}
}

// Block returns a Turn that waits until ctx is done, simulating an engine that
// never answers in time.
func Block() Turn {
	return func(ctx context.Context, _ schemas.EngineRequest) (schemas.NextStep, error) {
		<-ctx.Done()
		return schemas.NextStep{}, ctx.Err()
	}
}

// Scripted is a deterministic Engine that plays back turns in order. Once the
// script runs out it repeats its Fallback turn, or fails when none is set.
type Scripted struct {
	// Fallback is played after the script is exhausted.
	Fallback Turn

	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []schemas.EngineRequest
}

var _ schemas.Engine = (*Scripted)(nil)

// NewScripted returns an engine that plays turns in order.
func NewScripted(turns ...Turn) *Scripted {
	return &Scripted{turns: turns}
}

// Next implements schemas.Engine.
func (s *Scripted) Next(ctx context.Context, req schemas.EngineRequest) (schemas.NextStep, error) {
	if err := ctx.Err(); err != nil {
		return schemas.NextStep{}, err
	}
	s.mu.Lock()
	req.Conversation = req.Conversation.Clone()
	s.requests = append(s.requests, req)
	var turn Turn
	if s.next < len(s.turns) {
		turn = s.turns[s.next]
		s.next++
	} else {
		turn = s.Fallback
	}
	s.mu.Unlock()

	if turn == nil {
		return schemas.NextStep{}, fmt.Errorf("scripted engine exhausted after %d turns", len(s.turns))
	}
	return turn(ctx, req)
}

// Requests returns every request seen so far.
func (s *Scripted) Requests() []schemas.EngineRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.EngineRequest(nil), s.requests...)
}

// Reset rewinds the script so it can be played again, as happens when a
// session re-runs the same query for its answer pass.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}
