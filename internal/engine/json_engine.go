package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	actionInvoke = "invoke"
	actionAnswer = "answer"
)

// decision is the single JSON object the model must reply with.
type decision struct {
	Thought    string         `json:"thought"`
	Action     string         `json:"action"`
	Capability string         `json:"capability"`
	Arguments  map[string]any `json:"arguments"`
	Answer     string         `json:"answer"`
}

// JSONEngine turns any text completion client into a reasoning engine. Each
// turn renders the conversation into a prompt and parses one JSON decision
// from the reply.
type JSONEngine struct {
	client      schemas.LLMClient
	logger      *zap.Logger
	temperature float64
}

var _ schemas.Engine = (*JSONEngine)(nil)

// NewJSONEngine wraps client.
func NewJSONEngine(client schemas.LLMClient, logger *zap.Logger) *JSONEngine {
	return &JSONEngine{
		client:      client,
		logger:      logger.Named("json_engine"),
		temperature: 0.2,
	}
}

// Next implements schemas.Engine.
func (e *JSONEngine) Next(ctx context.Context, req schemas.EngineRequest) (schemas.NextStep, error) {
	genReq := schemas.GenerationRequest{
		SystemPrompt: e.systemPrompt(req),
		UserPrompt:   renderConversation(req.Conversation),
		Tier:         req.Tier,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: e.temperature},
	}

	response, err := e.client.Generate(ctx, genReq)
	if err != nil {
		return schemas.NextStep{}, fmt.Errorf("llm generation failed: %w", err)
	}

	// A model that ignores the protocol and replies in prose has answered.
	if _, ok := llmutil.ExtractObject(response); !ok {
		return schemas.NextStep{Answer: strings.TrimSpace(response)}, nil
	}
	d, err := llmutil.DecodeObject[decision](response)
	if err != nil {
		return schemas.NextStep{}, err
	}
	return e.toStep(*d)
}

func (e *JSONEngine) toStep(d decision) (schemas.NextStep, error) {
	action := strings.ToLower(strings.TrimSpace(d.Action))
	if action == "" && d.Capability != "" {
		action = actionInvoke
	}
	if action != actionInvoke {
		if action != actionAnswer {
			e.logger.Debug("Unknown action in decision, treating it as an answer", zap.String("action", d.Action))
		}
		answer := d.Answer
		if strings.TrimSpace(answer) == "" {
			answer = d.Thought
		}
		return schemas.NextStep{Answer: answer}, nil
	}
	if strings.TrimSpace(d.Capability) == "" {
		return schemas.NextStep{}, fmt.Errorf("%w: invoke decision names no capability", schemas.ErrMalformedReply)
	}
	return schemas.NextStep{
		Thought: d.Thought,
		Invocation: &schemas.Invocation{
			CallID:     uuid.NewString(),
			Capability: d.Capability,
			Arguments:  capability.ArgsFromMap(d.Arguments),
		},
	}, nil
}

func (e *JSONEngine) systemPrompt(req schemas.EngineRequest) string {
	var sb strings.Builder
	sb.WriteString(req.SystemInstruction)
	sb.WriteString("\n\nAvailable capabilities:\n")
	if len(req.Capabilities) == 0 {
		sb.WriteString("    (none)\n")
	}
	for _, c := range req.Capabilities {
		fmt.Fprintf(&sb, "    - %s: %s\n", c.Name, c.Description)
		for _, p := range c.Parameters {
			need := "optional"
			if p.Required {
				need = "required"
			}
			fmt.Fprintf(&sb, "        %s (%s): %s\n", p.Name, need, p.Description)
		}
	}
	sb.WriteString(`
Respond with a single JSON object and nothing else.
To use a capability:
    {"thought": "...", "action": "invoke", "capability": "<name>", "arguments": {"<param>": "<value>"}}
To finish:
    {"thought": "...", "action": "answer", "answer": "<final answer for the user>"}
All argument values are strings. Use exactly one capability per reply.`)
	return sb.String()
}

// renderConversation flattens the conversation into a transcript the model can
// read as a single user prompt.
func renderConversation(conv schemas.Conversation) string {
	var sb strings.Builder
	for _, m := range conv {
		switch {
		case m.Role == schemas.RoleUser:
			fmt.Fprintf(&sb, "USER:\n%s\n\n", m.Content)
		case m.IsInvocation():
			args, _ := json.Marshal(m.Arguments)
			if strings.TrimSpace(m.Content) != "" {
				fmt.Fprintf(&sb, "ASSISTANT:\n%s\n", m.Content)
			} else {
				sb.WriteString("ASSISTANT:\n")
			}
			fmt.Fprintf(&sb, "invoke %s %s\n\n", m.Capability, args)
		case m.Role == schemas.RoleAssistant:
			fmt.Fprintf(&sb, "ASSISTANT:\n%s\n\n", m.Content)
		case m.Role == schemas.RoleToolResult:
			if m.ErrorCode != "" {
				fmt.Fprintf(&sb, "RESULT of %s [%s]:\n%s\n\n", m.Capability, m.ErrorCode, m.Content)
			} else {
				fmt.Fprintf(&sb, "RESULT of %s:\n%s\n\n", m.Capability, m.Content)
			}
		}
	}
	sb.WriteString("Decide the next step.")
	return sb.String()
}
