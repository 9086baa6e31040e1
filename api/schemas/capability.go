package schemas

// -- Capability Schemas --

// CapabilityKind classifies what a capability does to the sandbox.
type CapabilityKind string

const (
	KindRead       CapabilityKind = "READ"
	KindList       CapabilityKind = "LIST"
	KindSearch     CapabilityKind = "SEARCH"
	KindFindByName CapabilityKind = "FIND_BY_NAME"
	KindWrite      CapabilityKind = "WRITE"
	KindEdit       CapabilityKind = "EDIT"
	KindDelete     CapabilityKind = "DELETE"
	KindRename     CapabilityKind = "RENAME"
	// KindDelegate forwards a task to another agent. It never touches the backend
	// itself and is treated as read-equivalent.
	KindDelegate CapabilityKind = "DELEGATE"
)

// Mutates reports whether capabilities of this kind change the sandbox.
func (k CapabilityKind) Mutates() bool {
	switch k {
	case KindWrite, KindEdit, KindDelete, KindRename:
		return true
	default:
		return false
	}
}

// Valid reports whether k is one of the known kinds.
func (k CapabilityKind) Valid() bool {
	switch k {
	case KindRead, KindList, KindSearch, KindFindByName,
		KindWrite, KindEdit, KindDelete, KindRename, KindDelegate:
		return true
	default:
		return false
	}
}

// ParameterSpec describes one string argument of a capability.
type ParameterSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// CapabilityDescriptor is the engine-facing description of a capability.
type CapabilityDescriptor struct {
	Name        string          `json:"name"`
	Kind        CapabilityKind  `json:"kind"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters"`
}

// Invocation is an engine's request to run one capability.
type Invocation struct {
	CallID     string            `json:"call_id"`
	Capability string            `json:"capability"`
	Arguments  map[string]string `json:"arguments"`
}
