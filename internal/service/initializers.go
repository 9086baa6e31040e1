package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tandem-cli/api/schemas"
	"github.com/xkilldash9x/tandem-cli/internal/capability"
	"github.com/xkilldash9x/tandem-cli/internal/config"
	"github.com/xkilldash9x/tandem-cli/internal/llmclient"
	"github.com/xkilldash9x/tandem-cli/internal/sandbox"
	"github.com/xkilldash9x/tandem-cli/internal/skills"
	"github.com/xkilldash9x/tandem-cli/internal/store"
)

// InitializeSandbox opens the configured backend. The memory backend starts
// empty and is meant for dry runs.
func InitializeSandbox(cfg config.SandboxConfig, logger *zap.Logger) (*sandbox.Backend, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("Using an in-memory sandbox; nothing written will survive the process.")
		return sandbox.NewMemory(cfg.Root, logger), nil
	case "", "os":
		return sandbox.NewOS(cfg.Root, logger)
	default:
		return nil, fmt.Errorf("unsupported sandbox backend: %s", cfg.Backend)
	}
}

// InitializeRegistry registers the built-in capabilities over backend.
func InitializeRegistry(cfg config.CapabilitiesConfig, backend *sandbox.Backend, logger *zap.Logger) (*capability.Registry, error) {
	reg := capability.NewRegistry(logger, cfg.InvokeTimeout)
	err := capability.RegisterBuiltins(reg, backend, capability.BuiltinOptions{
		SearchMaxHits: cfg.SearchMaxHits,
		ReadMaxBytes:  cfg.ReadMaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register built-in capabilities: %w", err)
	}
	return reg, nil
}

// InitializeSkills loads the built-in skills plus the optional skills file.
func InitializeSkills(cfg config.SkillsConfig, fsys afero.Fs, logger *zap.Logger) (*skills.Library, error) {
	lib := skills.NewLibrary()
	if cfg.File == "" {
		return lib, nil
	}
	if err := lib.LoadFile(fsys, cfg.File); err != nil {
		return nil, err
	}
	logger.Debug("Loaded skills file.", zap.String("file", cfg.File), zap.Strings("skills", lib.IDs()))
	return lib, nil
}

// InitializeLLMClient creates the tier-routed text client.
func InitializeLLMClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	llmClient, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Features requiring AI agents will fail.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return llmClient, nil
}

// InitializeLedger connects the optional Postgres session ledger. It returns
// nils when no database is configured.
func InitializeLedger(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*store.Store, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		logger.Debug("No database configured; session ledger disabled.")
		return nil, nil, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("Session ledger connected.")
	return s, pool, nil
}
