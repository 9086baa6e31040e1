package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/engine"
)

// NewClient builds the tier-routed text client described by cfg.
func NewClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	fast, err := newModelClient(ctx, cfg.ModelFor(cfg.DefaultFastModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fast tier client (%s): %w", cfg.DefaultFastModel, err)
	}
	powerful, err := newModelClient(ctx, cfg.ModelFor(cfg.DefaultPowerfulModel), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize powerful tier client (%s): %w", cfg.DefaultPowerfulModel, err)
	}
	return NewLLMRouter(logger, fast, powerful)
}

// NewEngine builds the tier-routed reasoning engine selected by cfg.Engine.
// The json engine shares client, which may be nil for the gemini engine.
func NewEngine(ctx context.Context, cfg config.LLMRouterConfig, client schemas.LLMClient, logger *zap.Logger) (schemas.Engine, error) {
	switch cfg.Engine {
	case config.EngineJSON:
		if client == nil {
			return nil, fmt.Errorf("the json engine requires a text client")
		}
		return engine.NewJSONEngine(client, logger), nil
	case config.EngineGemini, "":
		fast, err := newModelEngine(ctx, cfg.ModelFor(cfg.DefaultFastModel), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize fast tier engine (%s): %w", cfg.DefaultFastModel, err)
		}
		powerful, err := newModelEngine(ctx, cfg.ModelFor(cfg.DefaultPowerfulModel), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize powerful tier engine (%s): %w", cfg.DefaultPowerfulModel, err)
		}
		return NewEngineRouter(logger, fast, powerful)
	default:
		return nil, fmt.Errorf("unknown engine kind %q. Supported: [%s, %s]", cfg.Engine, config.EngineGemini, config.EngineJSON)
	}
}

func newModelClient(ctx context.Context, m config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch m.Provider {
	case config.ProviderGemini, "":
		return NewGoogleClient(ctx, m, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", m.Provider, config.ProviderGemini)
	}
}

func newModelEngine(ctx context.Context, m config.LLMModelConfig, logger *zap.Logger) (schemas.Engine, error) {
	switch m.Provider {
	case config.ProviderGemini, "":
		return NewGeminiEngine(ctx, m, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", m.Provider, config.ProviderGemini)
	}
}
