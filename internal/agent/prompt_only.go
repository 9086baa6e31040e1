package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/skills"
)

// PromptOnly answers a question from supplied context with a single text
// generation. It never touches the sandbox.
type PromptOnly struct {
	client      schemas.LLMClient
	instruction string
	logger      *zap.Logger
}

// NewPromptOnly builds the prompt-only answerer. The sensitive-data skill is
// always part of its instruction.
func NewPromptOnly(client schemas.LLMClient, lib *skills.Library, logger *zap.Logger) (*PromptOnly, error) {
	if lib == nil {
		lib = skills.NewLibrary()
	}
	instruction, err := instructionWithSkills(lib, PromptOnlyInstruction, []string{skills.SensitiveData})
	if err != nil {
		return nil, err
	}
	return &PromptOnly{
		client:      client,
		instruction: instruction,
		logger:      logger.Named("prompt_only"),
	}, nil
}

// Answer redacts contextText and asks the model question against it.
func (p *PromptOnly) Answer(ctx context.Context, contextText, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: question is required", schemas.ErrInvalidArguments)
	}
	safe := skills.Redact(contextText)
	if safe != contextText {
		p.logger.Debug("Redacted personal data from context")
	}

	out, err := p.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: p.instruction,
		UserPrompt:   fmt.Sprintf("Context:\n%s\n\nQuestion: %s", safe, question),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.2},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", schemas.ErrEngineUnavailable, err)
	}
	return strings.TrimSpace(out), nil
}
