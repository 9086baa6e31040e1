package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// LLMRouter implements the LLMClient interface and routes requests by tier.
type LLMRouter struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
}

var _ schemas.LLMClient = (*LLMRouter)(nil)

// NewLLMRouter creates a new router with the specified clients for each tier.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient) (*LLMRouter, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	return &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
	}, nil
}

// Generate selects the client for the request's Tier. An empty tier routes to
// the powerful client.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}

// Close closes every distinct client once.
func (r *LLMRouter) Close() error {
	var firstErr error
	seen := map[schemas.LLMClient]bool{}
	for _, c := range r.clients {
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EngineRouter implements schemas.Engine by routing each turn to the engine
// for the request's Tier.
type EngineRouter struct {
	logger  *zap.Logger
	engines map[schemas.ModelTier]schemas.Engine
}

var _ schemas.Engine = (*EngineRouter)(nil)

// NewEngineRouter creates a router over a fast and a powerful engine.
func NewEngineRouter(logger *zap.Logger, fast, powerful schemas.Engine) (*EngineRouter, error) {
	if fast == nil || powerful == nil {
		return nil, fmt.Errorf("both fast and powerful tier engines must be provided")
	}
	return &EngineRouter{
		logger: logger.Named("engine_router"),
		engines: map[schemas.ModelTier]schemas.Engine{
			schemas.TierFast:     fast,
			schemas.TierPowerful: powerful,
		},
	}, nil
}

// Next implements schemas.Engine.
func (r *EngineRouter) Next(ctx context.Context, req schemas.EngineRequest) (schemas.NextStep, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}
	engine, ok := r.engines[tier]
	if !ok {
		return schemas.NextStep{}, fmt.Errorf("no engine configured for tier: %s", tier)
	}
	r.logger.Debug("Routing engine turn", zap.String("tier", string(tier)))
	return engine.Next(ctx, req)
}
