package capability

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// Set is the read-only view of the capabilities one agent may use. It refers
// to the registry rather than copying capabilities.
type Set struct {
	reg   *Registry
	names []string
	index map[string]struct{}
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns the sorted capability names.
func (s Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of capabilities in the set.
func (s Set) Len() int { return len(s.names) }

// Descriptors returns what an engine needs to know about the set.
func (s Set) Descriptors() []schemas.CapabilityDescriptor {
	out := make([]schemas.CapabilityDescriptor, 0, len(s.names))
	if s.reg == nil {
		return out
	}
	for _, n := range s.names {
		if c, err := s.reg.Resolve(n); err == nil {
			out = append(out, c.CapabilityDescriptor)
		}
	}
	return out
}

// Kinds returns the kind of every capability in the set.
func (s Set) Kinds() map[string]schemas.CapabilityKind {
	out := make(map[string]schemas.CapabilityKind, len(s.names))
	for _, d := range s.Descriptors() {
		out[d.Name] = d.Kind
	}
	return out
}

// Invoke runs name through the registry if the set contains it. Names the
// registry does not know fail with ErrUnknownCapability.
func (s Set) Invoke(ctx context.Context, name string, args Args) (string, error) {
	if !s.Has(name) {
		if s.reg != nil {
			if _, err := s.reg.Resolve(name); err != nil {
				return "", err
			}
		}
		return "", fmt.Errorf("%w: %s", schemas.ErrCapabilityNotPermitted, name)
	}
	return s.reg.Invoke(ctx, name, args)
}

// ReadOnly keeps capabilities that never mutate the sandbox.
func ReadOnly(d schemas.CapabilityDescriptor) bool {
	return !d.Kind.Mutates()
}

// Direct keeps every capability except delegation.
func Direct(d schemas.CapabilityDescriptor) bool {
	return d.Kind != schemas.KindDelegate
}
