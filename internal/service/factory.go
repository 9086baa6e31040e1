package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/agent"
	"github.com/xkilldash9x/tandem-cli/internal/audit"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/llmclient"
	"github.com/xkilldash9x/tandem-cli/internal/session"
	"github.com/xkilldash9x/tandem-cli/internal/stream"
)

// ComponentFactory creates the set of components needed for query sessions.
// The abstraction keeps the commands testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// Option overrides a part of what the factory would otherwise build from
// configuration.
type Option func(*concreteFactory)

// WithEngine supplies the reasoning engine, bypassing llm.engine.
func WithEngine(e schemas.Engine) Option {
	return func(f *concreteFactory) { f.engine = e }
}

// WithLLMClient supplies the text client used by the JSON engine.
func WithLLMClient(c schemas.LLMClient) Option {
	return func(f *concreteFactory) { f.client = c }
}

// WithAuditWriter sends audit blocks to w instead of the configured file.
func WithAuditWriter(w io.Writer) Option {
	return func(f *concreteFactory) { f.auditWriter = w }
}

// WithLedger supplies the session ledger, bypassing database.url.
func WithLedger(l schemas.SessionLedger) Option {
	return func(f *concreteFactory) { f.ledger = l }
}

// WithFs sets the filesystem the skills file is read from.
func WithFs(fsys afero.Fs) Option {
	return func(f *concreteFactory) { f.fs = fsys }
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	engine      schemas.Engine
	client      schemas.LLMClient
	auditWriter io.Writer
	ledger      schemas.SessionLedger
	fs          afero.Fs
}

// NewComponentFactory creates a new component factory.
func NewComponentFactory(opts ...Option) ComponentFactory {
	f := &concreteFactory{fs: afero.NewOsFs()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// GatewayTimeout bounds one delegated run: every privileged turn may spend a
// full engine call and a full capability invocation.
func GatewayTimeout(cfg config.Interface) time.Duration {
	turns := time.Duration(cfg.Agents().Privileged.TurnBudget)
	return turns * (cfg.Agents().EngineTimeout + cfg.Capabilities().InvokeTimeout)
}

// Create handles the full dependency injection of session components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()
	fail := func(err error) (*Components, error) {
		initializationErr = err
		return nil, err
	}

	// 1. Sandbox and capabilities
	backend, err := InitializeSandbox(cfg.Sandbox(), logger)
	if err != nil {
		return fail(fmt.Errorf("failed to open sandbox: %w", err))
	}
	backend.Protect(cfg.Audit().LogFile, cfg.Logger().LogFile)
	components.Backend = backend

	registry, err := InitializeRegistry(cfg.Capabilities(), backend, logger)
	if err != nil {
		return fail(err)
	}
	components.Registry = registry

	lib, err := InitializeSkills(cfg.Skills(), f.fs, logger)
	if err != nil {
		return fail(err)
	}
	components.Skills = lib
	logger.Debug("Sandbox and capabilities initialized.", zap.String("root", backend.Root()), zap.Strings("capabilities", registry.Names()))

	// 2. Reasoning engine
	engine, err := f.buildEngine(ctx, cfg, components, logger)
	if err != nil {
		return fail(err)
	}
	components.Engine = engine

	// 3. Agents
	deps := agent.Deps{
		Registry: registry,
		Adapter:  agent.NewAdapter(engine, cfg.Agents().EngineTimeout, logger),
		Skills:   lib,
		Logger:   logger,
	}
	privileged, err := agent.NewPrivileged(deps, cfg.Agents().Privileged)
	if err != nil {
		return fail(fmt.Errorf("failed to build privileged agent: %w", err))
	}
	components.Privileged = privileged

	gateway := agent.NewGateway(privileged, GatewayTimeout(cfg), logger)
	if err := registry.Register(gateway.Capability()); err != nil {
		return fail(fmt.Errorf("failed to register delegation gateway: %w", err))
	}
	components.Gateway = gateway

	restricted, err := agent.NewRestricted(deps, gateway, cfg.Agents().Restricted)
	if err != nil {
		return fail(fmt.Errorf("failed to build restricted agent: %w", err))
	}
	components.Restricted = restricted
	logger.Debug("Agents initialized.",
		zap.Strings("restricted", restricted.Config().Allowed.Names()),
		zap.Strings("privileged", privileged.Config().Allowed.Names()))

	// 4. Audit sink
	if f.auditWriter != nil {
		components.Sink = audit.NewWriterSink(f.auditWriter, logger)
	} else {
		components.Sink = audit.NewFileSink(cfg.Audit(), logger)
	}

	// 5. Optional session ledger
	var ledger schemas.SessionLedger
	switch {
	case f.ledger != nil:
		ledger = f.ledger
	default:
		dbStore, pool, err := InitializeLedger(ctx, cfg.Database(), logger)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize session ledger: %w", err))
		}
		components.DBPool = pool
		if dbStore != nil {
			ledger = dbStore
		}
	}
	if ledger != nil {
		components.Ledger = NewAsyncLedger(ledger, 0, logger)
	}

	// 6. Session controller
	var controllerLedger schemas.SessionLedger
	if components.Ledger != nil {
		controllerLedger = components.Ledger
	}
	components.Controller = session.NewController(restricted, components.Sink, controllerLedger, session.Options{
		Root:                backend.Root(),
		ReuseStreamedAnswer: cfg.Session().ReuseStreamedAnswer,
		Timeout:             cfg.Session().Timeout,
		Stream: stream.Options{
			MessagePreview: cfg.Audit().MessagePreview,
			UpdatePreview:  cfg.Audit().UpdatePreview,
		},
	}, logger)

	logger.Info("All session components initialized successfully.")
	return components, nil
}

func (f *concreteFactory) buildEngine(ctx context.Context, cfg config.Interface, components *Components, logger *zap.Logger) (schemas.Engine, error) {
	if f.engine != nil {
		return f.engine, nil
	}

	client := f.client
	if client == nil && cfg.LLM().Engine == config.EngineJSON {
		c, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
		if err != nil {
			return nil, err
		}
		client = c
		components.ownsClient = true
	}
	components.LLMClient = client

	engine, err := llmclient.NewEngine(ctx, cfg.LLM(), client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reasoning engine: %w", err)
	}
	return engine, nil
}

// NewPromptOnly builds the prompt-only answerer. The returned cleanup closes
// the model client when this function created it.
func NewPromptOnly(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts ...Option) (*agent.PromptOnly, func(), error) {
	f := &concreteFactory{fs: afero.NewOsFs()}
	for _, o := range opts {
		o(f)
	}

	lib, err := InitializeSkills(cfg.Skills(), f.fs, logger)
	if err != nil {
		return nil, nil, err
	}

	client := f.client
	cleanup := func() {}
	if client == nil {
		c, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
		if err != nil {
			return nil, nil, err
		}
		client = c
		cleanup = func() {
			if err := c.Close(); err != nil {
				logger.Warn("Error closing LLM client.", zap.Error(err))
			}
		}
	}

	p, err := agent.NewPromptOnly(client, lib, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}
