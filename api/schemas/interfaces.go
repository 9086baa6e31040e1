package schemas

import (
	"context"
)

// -- Reasoning Engine Interface --

// Engine is the opaque reasoning capability both agents are built on. Given the
// system instruction, the capabilities the calling agent may use, and the
// conversation so far, it decides the next step: a terminal answer or a request
// to invoke exactly one capability.
type Engine interface {
	// Next returns the engine's next step for the given request. Implementations
	// must honor ctx cancellation and deadlines.
	Next(ctx context.Context, req EngineRequest) (NextStep, error)
}

// EngineRequest is everything an Engine sees for a single turn.
type EngineRequest struct {
	SystemInstruction string                 `json:"system_instruction"`
	Capabilities      []CapabilityDescriptor `json:"capabilities"`
	Conversation      Conversation           `json:"conversation"`
	Tier              ModelTier              `json:"tier"`
}

// EngineFunc adapts an ordinary function to the Engine interface.
type EngineFunc func(ctx context.Context, req EngineRequest) (NextStep, error)

// Next calls f(ctx, req).
func (f EngineFunc) Next(ctx context.Context, req EngineRequest) (NextStep, error) {
	return f(ctx, req)
}

// -- LLM Client Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for plain text completion, used by the
// JSON decision protocol engine and by prompt-only answering.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Session Ledger Interface --

// SessionRecord summarizes one completed query session.
type SessionRecord struct {
	ID          string `json:"id"`
	Query       string `json:"query"`
	Answer      string `json:"answer"`
	Root        string `json:"root"`
	Terminated  bool   `json:"terminated"`
	Delegations int    `json:"delegations"`
	Failed      bool   `json:"failed"`
	StartedAt   int64  `json:"started_at"`  // Unix milliseconds.
	FinishedAt  int64  `json:"finished_at"` // Unix milliseconds.
}

// SessionLedger persists session summaries. It is optional; the audit sink is
// the authoritative record.
type SessionLedger interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
}
