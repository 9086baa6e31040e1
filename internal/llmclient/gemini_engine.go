package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/config"
)

// GeminiEngine is a reasoning engine on Gemini's native function calling.
// Capabilities become function declarations; invocations and their results
// travel as function call and function response parts.
type GeminiEngine struct {
	client  *genai.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	config  config.LLMModelConfig
}

var _ schemas.Engine = (*GeminiEngine)(nil)

// NewGeminiEngine initializes the engine for one model.
func NewGeminiEngine(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiEngine, error) {
	client, err := newGenaiClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &GeminiEngine{
		client:  client,
		limiter: newLimiter(cfg),
		logger:  logger.Named("engine.gemini").With(zap.String("model", cfg.Model)),
		config:  cfg,
	}, nil
}

// Next implements schemas.Engine.
func (e *GeminiEngine) Next(ctx context.Context, req schemas.EngineRequest) (schemas.NextStep, error) {
	if err := wait(ctx, e.limiter); err != nil {
		return schemas.NextStep{}, err
	}

	genCfg := generationConfig(e.config, 0)
	if strings.TrimSpace(req.SystemInstruction) != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if decls := functionDeclarations(req.Capabilities); len(decls) > 0 {
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	start := time.Now()
	resp, err := e.client.Models.GenerateContent(ctx, e.config.Model, toContents(req.Conversation), genCfg)
	if err != nil {
		return schemas.NextStep{}, fmt.Errorf("gemini generate content: %w", err)
	}
	if err := checkCandidates(resp); err != nil {
		return schemas.NextStep{}, err
	}
	logUsage(e.logger, resp, time.Since(start))

	return toStep(resp), nil
}

// toStep reads the first function call of the reply as the invocation. Gemini
// may return several parallel calls; the adapter runs one capability per turn,
// so the rest are dropped and the model will ask again if it still needs them.
func toStep(resp *genai.GenerateContentResponse) schemas.NextStep {
	text := strings.TrimSpace(resp.Text())
	calls := resp.FunctionCalls()
	if len(calls) == 0 {
		return schemas.NextStep{Answer: text}
	}
	call := calls[0]
	id := call.ID
	if id == "" {
		id = uuid.NewString()
	}
	return schemas.NextStep{
		Thought: text,
		Invocation: &schemas.Invocation{
			CallID:     id,
			Capability: call.Name,
			Arguments:  capability.ArgsFromMap(call.Args),
		},
	}
}

func functionDeclarations(descs []schemas.CapabilityDescriptor) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(descs))
	for _, d := range descs {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(d.Parameters)),
		}
		for _, p := range d.Parameters {
			params.Properties[p.Name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return out
}

// toContents maps the conversation onto Gemini turns. Tool results are sent as
// user turns carrying a function response for the matching call; results that
// belong to no call travel as plain user text.
func toContents(conv schemas.Conversation) []*genai.Content {
	out := make([]*genai.Content, 0, len(conv))
	for _, m := range conv {
		switch {
		case m.Role == schemas.RoleUser:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		case m.IsInvocation():
			var parts []*genai.Part
			if strings.TrimSpace(m.Content) != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			args := make(map[string]any, len(m.Arguments))
			for k, v := range m.Arguments {
				args[k] = v
			}
			fc := genai.NewPartFromFunctionCall(m.Capability, args)
			fc.FunctionCall.ID = m.CallID
			parts = append(parts, fc)
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
		case m.Role == schemas.RoleAssistant:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
		case m.Role == schemas.RoleToolResult && m.Capability == "":
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		case m.Role == schemas.RoleToolResult:
			response := map[string]any{"output": m.Content}
			if m.ErrorCode != "" {
				response = map[string]any{"error": m.Content, "code": string(m.ErrorCode)}
			}
			fr := genai.NewPartFromFunctionResponse(m.Capability, response)
			fr.FunctionResponse.ID = m.CallID
			out = append(out, genai.NewContentFromParts([]*genai.Part{fr}, genai.RoleUser))
		}
	}
	return out
}
