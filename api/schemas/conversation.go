package schemas

import "strings"

// -- Conversation Schemas --

// Role identifies the author of a Message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Message is one entry in a Conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Capability names the invoked capability on assistant invocation requests and
	// the originating capability on tool results.
	Capability string            `json:"capability,omitempty"`
	CallID     string            `json:"call_id,omitempty"`
	Arguments  map[string]string `json:"arguments,omitempty"`
	// ErrorCode is set on tool results that carry a failure.
	ErrorCode ErrorCode `json:"error_code,omitempty"`
}

// IsInvocation reports whether m is an assistant request to run a capability.
func (m Message) IsInvocation() bool {
	return m.Role == RoleAssistant && m.Capability != ""
}

// Conversation is an append-only, ordered sequence of messages.
type Conversation []Message

// NewConversation starts a conversation with a single user message.
func NewConversation(query string) Conversation {
	return Conversation{{Role: RoleUser, Content: query}}
}

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(msgs ...Message) {
	*c = append(*c, msgs...)
}

// Last returns the final message, or false when the conversation is empty.
func (c Conversation) Last() (Message, bool) {
	if len(c) == 0 {
		return Message{}, false
	}
	return c[len(c)-1], true
}

// Clone returns a copy that can be appended to without affecting c.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// FinalAnswer returns the content of the last assistant message that carries
// text, or "" if there is none.
func (c Conversation) FinalAnswer() string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleAssistant && strings.TrimSpace(c[i].Content) != "" {
			return c[i].Content
		}
	}
	return ""
}

// NextStep is an engine's decision for one turn: either a terminal Answer or an
// Invocation. Thought carries any free text emitted alongside an invocation.
type NextStep struct {
	Thought    string      `json:"thought,omitempty"`
	Answer     string      `json:"answer,omitempty"`
	Invocation *Invocation `json:"invocation,omitempty"`
}

// IsInvocation reports whether the step requests a capability.
func (s NextStep) IsInvocation() bool {
	return s.Invocation != nil && s.Invocation.Capability != ""
}
