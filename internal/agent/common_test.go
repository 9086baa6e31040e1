package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/engine"
	"github.com/xkilldash9x/tandem-cli/internal/sandbox"
	"github.com/xkilldash9x/tandem-cli/internal/skills"
	"github.com/xkilldash9x/tandem-cli/internal/stream"
)

// fixture wires both agents over an in-memory sandbox. Engine requests are
// routed to one script per agent by their system instruction.
type fixture struct {
	backend    *sandbox.Backend
	registry   *capability.Registry
	restricted *Agent
	privileged *Agent
	gateway    *Gateway

	restrictedScript *engine.Scripted
	privilegedScript *engine.Scripted

	mu    sync.Mutex
	calls []capability.Call
}

func newFixture(t *testing.T, restricted, privileged []engine.Turn) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		backend:          sandbox.NewMemory("/srv/notes", logger),
		registry:         capability.NewRegistry(logger, time.Second),
		restrictedScript: engine.NewScripted(restricted...),
		privilegedScript: engine.NewScripted(privileged...),
	}
	require.NoError(t, capability.RegisterBuiltins(f.registry, f.backend, capability.BuiltinOptions{}))
	f.registry.Observe(func(c capability.Call) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, c)
	})

	router := schemas.EngineFunc(func(ctx context.Context, req schemas.EngineRequest) (schemas.NextStep, error) {
		if strings.HasPrefix(req.SystemInstruction, PrivilegedInstruction) {
			return f.privilegedScript.Next(ctx, req)
		}
		return f.restrictedScript.Next(ctx, req)
	})
	deps := Deps{
		Registry: f.registry,
		Adapter:  NewAdapter(router, time.Second, logger),
		Skills:   skills.NewLibrary(),
		Logger:   logger,
	}

	var err error
	f.privileged, err = NewPrivileged(deps, config.AgentProfile{TurnBudget: 6})
	require.NoError(t, err)
	f.gateway = NewGateway(f.privileged, 5*time.Second, logger)
	require.NoError(t, f.registry.Register(f.gateway.Capability()))
	f.restricted, err = NewRestricted(deps, f.gateway, config.AgentProfile{TurnBudget: 8, Skills: []string{skills.FileFinder}})
	require.NoError(t, err)
	return f
}

func (f *fixture) seed(t *testing.T, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		require.NoError(t, f.backend.Write(context.Background(), rel, []byte(body)))
	}
}

func (f *fixture) recordedCalls() []capability.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capability.Call(nil), f.calls...)
}

// collector gathers streamed events in production order.
type collector struct {
	mu     sync.Mutex
	events []stream.Event
}

func (c *collector) emit(e stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []stream.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stream.Event(nil), c.events...)
}
