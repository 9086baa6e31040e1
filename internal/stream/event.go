// Package stream carries the incremental events of a streamed agent pass and
// renders them, in production order, into an audit block.
package stream

import (
	"context"
	"strings"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// Mode is the kind of an event.
type Mode string

const (
	// ModeMessages carries one conversation message.
	ModeMessages Mode = "messages"
	// ModeUpdates summarizes a completed engine or capability step.
	ModeUpdates Mode = "updates"
)

// Node names reported on update events.
const (
	NodeModel = "model"
	NodeTools = "tools"
)

// Payload is the body of an event.
type Payload interface {
	isPayload()
}

// MessagePayload carries one message appended to a conversation.
type MessagePayload struct {
	Message schemas.Message
}

// UpdateRecord reports the messages produced by one step of a node.
type UpdateRecord struct {
	Node     string
	Messages []schemas.Message
}

func (MessagePayload) isPayload() {}
func (UpdateRecord) isPayload()   {}

// Event is either a TopLevel event of the main pass or a Nested event produced
// below it, such as by a delegated run.
type Event interface {
	isEvent()
}

// TopLevel is an event of the outermost pass.
type TopLevel struct {
	Mode    Mode
	Payload Payload
}

// Nested is an event of a pass running inside another. Path names each level
// from the outermost down.
type Nested struct {
	Path    []string
	Mode    Mode
	Payload Payload
}

func (TopLevel) isEvent() {}
func (Nested) isEvent()   {}

// New builds the event variant that matches namespace.
func New(namespace []string, mode Mode, payload Payload) Event {
	if len(namespace) == 0 {
		return TopLevel{Mode: mode, Payload: payload}
	}
	return Nested{Path: append([]string(nil), namespace...), Mode: mode, Payload: payload}
}

// Emitter receives events as they are produced.
type Emitter func(Event)

// ChannelEmitter returns an Emitter that sends on ch. Sends give up once ctx
// is done so a producer never blocks on a consumer that has gone away.
func ChannelEmitter(ctx context.Context, ch chan<- Event) Emitter {
	return func(e Event) {
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	}
}

type ctxKey int

const (
	namespaceKey ctxKey = iota
	emitterKey
)

// WithNamespace sets the namespace events produced under ctx are tagged with.
func WithNamespace(ctx context.Context, namespace []string) context.Context {
	return context.WithValue(ctx, namespaceKey, append([]string(nil), namespace...))
}

// Descend appends segment to the namespace carried by ctx.
func Descend(ctx context.Context, segment string) context.Context {
	ns := NamespaceFrom(ctx)
	return WithNamespace(ctx, append(ns, segment))
}

// NamespaceFrom returns a copy of the namespace carried by ctx.
func NamespaceFrom(ctx context.Context) []string {
	ns, _ := ctx.Value(namespaceKey).([]string)
	return append([]string(nil), ns...)
}

// WithEmitter makes emit available to code running under ctx.
func WithEmitter(ctx context.Context, emit Emitter) context.Context {
	if emit == nil {
		return ctx
	}
	return context.WithValue(ctx, emitterKey, emit)
}

// EmitterFrom returns the emitter carried by ctx, or nil.
func EmitterFrom(ctx context.Context) Emitter {
	e, _ := ctx.Value(emitterKey).(Emitter)
	return e
}

// Label renders a namespace for display.
func Label(namespace []string) string {
	return strings.Join(namespace, "/")
}
