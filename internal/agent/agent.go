// Package agent implements the two agents that share the sandbox: a
// restricted, read-only agent that faces the user and a privileged agent that
// may mutate files and is reachable only through the delegation gateway.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/skills"
	"github.com/xkilldash9x/tandem-cli/internal/stream"
)

// Agent names. They also tag capability calls made on an agent's behalf.
const (
	RestrictedName = "restricted"
	PrivilegedName = "privileged"
)

// ReadOnlyBuiltins are the built-in capabilities granted to the restricted agent.
var ReadOnlyBuiltins = []string{
	capability.ReadFile,
	capability.ListDirectory,
	capability.SearchFiles,
	capability.FindFile,
}

// AgentConfig fixes an agent's identity and permissions at construction.
type AgentConfig struct {
	Name              string
	SystemInstruction string
	Allowed           capability.Set
	TurnBudget        int
	Tier              schemas.ModelTier
}

// Agent pairs an AgentConfig with the adapter that runs it.
type Agent struct {
	cfg     AgentConfig
	adapter *Adapter
	logger  *zap.Logger
}

// Deps are the shared components both agents are built from.
type Deps struct {
	Registry *capability.Registry
	Adapter  *Adapter
	Skills   *skills.Library
	Logger   *zap.Logger
}

// New builds an agent from an explicit configuration.
func New(cfg AgentConfig, adapter *Adapter, logger *zap.Logger) (*Agent, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("%w: agent name is required", schemas.ErrInvalidArguments)
	}
	if cfg.TurnBudget <= 0 {
		return nil, fmt.Errorf("%w: agent %s: turn budget must be positive", schemas.ErrInvalidArguments, cfg.Name)
	}
	if adapter == nil {
		return nil, fmt.Errorf("agent %s: adapter is required", cfg.Name)
	}
	if cfg.Tier == "" {
		cfg.Tier = schemas.TierFast
	}
	return &Agent{
		cfg:     cfg,
		adapter: adapter,
		logger:  logger.Named("agent").With(zap.String("agent", cfg.Name)),
	}, nil
}

// NewPrivileged builds the write-capable agent. It may use every registered
// capability except delegation.
func NewPrivileged(deps Deps, profile config.AgentProfile) (*Agent, error) {
	instruction, err := instructionWithSkills(deps.Skills, PrivilegedInstruction, profile.Skills)
	if err != nil {
		return nil, err
	}
	return New(AgentConfig{
		Name:              PrivilegedName,
		SystemInstruction: instruction,
		Allowed:           deps.Registry.Select(capability.Direct),
		TurnBudget:        profile.TurnBudget,
		Tier:              schemas.ModelTier(profile.Tier),
	}, deps.Adapter, deps.Logger)
}

// NewRestricted builds the user-facing agent over the read-only built-ins, the
// gateway, and any extra capabilities named. The gateway must already be
// registered. An allowed set containing a mutating capability fails with
// ErrPrivilegeViolation.
func NewRestricted(deps Deps, gateway *Gateway, profile config.AgentProfile, extra ...string) (*Agent, error) {
	names := append(append([]string{}, ReadOnlyBuiltins...), extra...)
	if gateway != nil {
		names = append(names, gateway.Name())
	}
	allowed, err := deps.Registry.Subset(names...)
	if err != nil {
		return nil, fmt.Errorf("restricted agent capabilities: %w", err)
	}
	if err := CheckReadOnly(allowed); err != nil {
		return nil, err
	}

	base := RestrictedInstruction(GatewayName)
	instruction, err := instructionWithSkills(deps.Skills, base, profile.Skills)
	if err != nil {
		return nil, err
	}
	return New(AgentConfig{
		Name:              RestrictedName,
		SystemInstruction: instruction,
		Allowed:           allowed,
		TurnBudget:        profile.TurnBudget,
		Tier:              schemas.ModelTier(profile.Tier),
	}, deps.Adapter, deps.Logger)
}

// CheckReadOnly fails with ErrPrivilegeViolation if any capability in set
// can mutate the sandbox.
func CheckReadOnly(set capability.Set) error {
	for _, d := range set.Descriptors() {
		if d.Kind.Mutates() {
			return fmt.Errorf("%w: %s (%s) is not allowed for a read-only agent", schemas.ErrPrivilegeViolation, d.Name, d.Kind)
		}
	}
	return nil
}

func instructionWithSkills(lib *skills.Library, base string, ids []string) (string, error) {
	if lib == nil || len(ids) == 0 {
		return base, nil
	}
	text, err := lib.Instructions(ids...)
	if err != nil {
		return "", err
	}
	return withSkills(base, text), nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.cfg.Name }

// Config returns the agent's configuration.
func (a *Agent) Config() AgentConfig { return a.cfg }

// Ask runs query to completion without streaming.
func (a *Agent) Ask(ctx context.Context, query string) (Result, error) {
	return a.Stream(ctx, query, nil)
}

// Stream runs query to completion, emitting progress events to emit under
// the namespace carried by ctx.
func (a *Agent) Stream(ctx context.Context, query string, emit stream.Emitter) (Result, error) {
	a.logger.Debug("Starting run", zap.Bool("streaming", emit != nil), zap.Int("turn_budget", a.cfg.TurnBudget))
	return a.adapter.Run(ctx, schemas.NewConversation(query), RunConfig(a.cfg), emit)
}
