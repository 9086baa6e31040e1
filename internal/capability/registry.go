// Package capability holds the named operations agents may invoke and the
// registry that dispatches them. Which agent may call what is decided by the
// Set each agent is built with, never by the capability itself.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
)

// InvokeFunc runs a capability.
type InvokeFunc func(ctx context.Context, args Args) (string, error)

// Capability is a registered, immutable operation.
type Capability struct {
	schemas.CapabilityDescriptor
	Invoke InvokeFunc
	// Timeout overrides the registry's per-invocation timeout when positive.
	Timeout time.Duration
}

// Call describes one finished invocation. It is handed to observers.
type Call struct {
	Caller     string
	CallID     string
	Capability string
	Kind       schemas.CapabilityKind
	Args       Args
	Started    time.Time
	Duration   time.Duration
	Err        error
}

// Observer is notified after every invocation. Observers must not block.
type Observer func(Call)

type ctxKey int

const (
	callerKey ctxKey = iota
	callIDKey
)

// WithCaller tags ctx with the name of the agent making invocations.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFrom returns the caller stored by WithCaller.
func CallerFrom(ctx context.Context) string {
	s, _ := ctx.Value(callerKey).(string)
	return s
}

// WithCallID tags ctx with the id of the invocation being run.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFrom returns the id stored by WithCallID.
func CallIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(callIDKey).(string)
	return s
}

// Registry owns every capability in the process. Registration happens at
// startup; afterwards the registry is only read.
type Registry struct {
	logger        *zap.Logger
	invokeTimeout time.Duration

	mu        sync.RWMutex
	caps      map[string]Capability
	observers []Observer
}

// NewRegistry creates an empty registry. invokeTimeout bounds every invocation
// that does not carry its own timeout; zero disables the bound.
func NewRegistry(logger *zap.Logger, invokeTimeout time.Duration) *Registry {
	return &Registry{
		logger:        logger.Named("capabilities"),
		invokeTimeout: invokeTimeout,
		caps:          make(map[string]Capability),
	}
}

// Register adds c. Names are unique.
func (r *Registry) Register(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("%w: capability name is empty", schemas.ErrInvalidArguments)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: capability %s has unknown kind %q", schemas.ErrInvalidArguments, c.Name, c.Kind)
	}
	if c.Invoke == nil {
		return fmt.Errorf("%w: capability %s has no implementation", schemas.ErrInvalidArguments, c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name]; exists {
		return fmt.Errorf("%w: %s", schemas.ErrDuplicateCapability, c.Name)
	}
	c.Parameters = append([]schemas.ParameterSpec(nil), c.Parameters...)
	r.caps[c.Name] = c
	r.logger.Debug("Registered capability", zap.String("name", c.Name), zap.String("kind", string(c.Kind)))
	return nil
}

// Resolve returns the capability registered under name.
func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return Capability{}, fmt.Errorf("%w: %s", schemas.ErrUnknownCapability, name)
	}
	return c, nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Observe adds an observer that sees every invocation.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Subset returns the Set of the named capabilities.
func (r *Registry) Subset(names ...string) (Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Set{reg: r, index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if _, ok := r.caps[n]; !ok {
			return Set{}, fmt.Errorf("%w: %s", schemas.ErrUnknownCapability, n)
		}
		if _, dup := s.index[n]; dup {
			continue
		}
		s.index[n] = struct{}{}
		s.names = append(s.names, n)
	}
	sort.Strings(s.names)
	return s, nil
}

// Select returns the Set of capabilities whose descriptor satisfies keep.
func (r *Registry) Select(keep func(schemas.CapabilityDescriptor) bool) Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Set{reg: r, index: make(map[string]struct{})}
	for n, c := range r.caps {
		if keep(c.CapabilityDescriptor) {
			s.index[n] = struct{}{}
			s.names = append(s.names, n)
		}
	}
	sort.Strings(s.names)
	return s
}

// Invoke runs the named capability with the registry timeout applied. A run
// that ends because the timeout fired fails with ErrTimeout.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (string, error) {
	c, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = Args{}
	}
	call := Call{
		Caller:     CallerFrom(ctx),
		CallID:     CallIDFrom(ctx),
		Capability: c.Name,
		Kind:       c.Kind,
		Args:       args.Clone(),
		Started:    time.Now(),
	}

	out, err := r.run(ctx, c, args)
	call.Duration = time.Since(call.Started)
	call.Err = err

	if err != nil {
		r.logger.Debug("Capability failed",
			zap.String("capability", c.Name), zap.String("caller", call.Caller), zap.Error(err))
	} else {
		r.logger.Debug("Capability invoked",
			zap.String("capability", c.Name), zap.String("caller", call.Caller), zap.Duration("duration", call.Duration))
	}
	r.notify(call)
	return out, err
}

func (r *Registry) run(ctx context.Context, c Capability, args Args) (string, error) {
	if err := args.validate(c.CapabilityDescriptor); err != nil {
		return "", err
	}
	timeout := r.invokeTimeout
	if c.Timeout > 0 {
		timeout = c.Timeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := c.Invoke(runCtx, args)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w: %s exceeded %s", schemas.ErrTimeout, c.Name, timeout)
	}
	return out, err
}

func (r *Registry) notify(call Call) {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o(call)
	}
}
