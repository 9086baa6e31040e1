package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/network"
)

// GoogleClient implements schemas.LLMClient for plain text generation on the
// Gemini API.
type GoogleClient struct {
	client  *genai.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	config  config.LLMModelConfig
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// NewGoogleClient initializes the client.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	client, err := newGenaiClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &GoogleClient{
		client:  client,
		limiter: newLimiter(cfg),
		logger:  logger.Named("llm_client.gemini"),
		config:  cfg,
	}, nil
}

// Generate sends the prompts to the Gemini API and returns the generated text.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return "", err
	}

	genCfg := generationConfig(c.config, req.Options.Temperature)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.Options.TopP > 0 {
		genCfg.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	if req.Options.TopK > 0 {
		genCfg.TopK = genai.Ptr(float32(req.Options.TopK))
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model,
		[]*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}, genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if err := checkCandidates(resp); err != nil {
		return "", err
	}

	logUsage(c.logger, resp, time.Since(start))
	return resp.Text(), nil
}

// Close releases client resources. The genai client holds none that need
// explicit release.
func (c *GoogleClient) Close() error { return nil }

// -- shared genai plumbing --

func newGenaiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	httpCfg, err := network.ConfigForModel(cfg, logger)
	if err != nil {
		return nil, err
	}
	cc.HTTPClient = network.NewClient(httpCfg)
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

func newLimiter(cfg config.LLMModelConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Wait also fails when the deadline is closer than the next token.
		return fmt.Errorf("rate limiter: %w", context.DeadlineExceeded)
	}
	return nil
}

func generationConfig(cfg config.LLMModelConfig, temperature float64) *genai.GenerateContentConfig {
	t := cfg.Temperature
	if temperature > 0 {
		t = float32(temperature)
	}
	gc := &genai.GenerateContentConfig{Temperature: genai.Ptr(t)}
	if cfg.TopP > 0 {
		gc.TopP = genai.Ptr(cfg.TopP)
	}
	if cfg.TopK > 0 {
		gc.TopK = genai.Ptr(float32(cfg.TopK))
	}
	if cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	for category, threshold := range cfg.SafetyFilters {
		gc.SafetySettings = append(gc.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(threshold),
		})
	}
	return gc
}

// checkCandidates rejects replies with nothing usable in them. A blocked prompt
// is an error the caller cannot fix by asking again; every other empty or cut
// off reply wraps schemas.ErrMalformedReply so the agent can retry.
func checkCandidates(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return fmt.Errorf("gemini API blocked the prompt (Reason: %s)", resp.PromptFeedback.BlockReason)
		}
		return fmt.Errorf("%w: gemini API returned no candidates", schemas.ErrMalformedReply)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonMalformedFunctionCall {
		return fmt.Errorf("%w: gemini API returned a malformed function call", schemas.ErrMalformedReply)
	}
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		switch cand.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
			return fmt.Errorf("gemini API blocked the request (Reason: %s)", cand.FinishReason)
		}
		return fmt.Errorf("%w: gemini API returned empty content parts (Reason: %s)", schemas.ErrMalformedReply, cand.FinishReason)
	}
	return nil
}

func logUsage(logger *zap.Logger, resp *genai.GenerateContentResponse, d time.Duration) {
	fields := []zap.Field{zap.Duration("duration", d)}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount),
		)
	}
	logger.Info("LLM generation complete (Gemini)", fields...)
}
