// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "tandem", cfg.Logger().ServiceName)
	assert.Equal(t, 25, cfg.Agents().Restricted.TurnBudget)
	assert.Equal(t, 10, cfg.Agents().Privileged.TurnBudget)
	assert.Equal(t, []string{"file-finder", "node-lookup"}, cfg.Agents().Restricted.Skills)
	assert.Equal(t, 90*time.Second, cfg.Agents().EngineTimeout)
	assert.Equal(t, 30*time.Second, cfg.Capabilities().InvokeTimeout)
	assert.Equal(t, filepath.Join(DefaultStateDir(), "agent_run.log"), cfg.Audit().LogFile)
	assert.Equal(t, filepath.Join(DefaultStateDir(), "tandem.log"), cfg.Logger().LogFile)
	assert.Equal(t, 600, cfg.Audit().MessagePreview)
	assert.Equal(t, 300, cfg.Audit().UpdatePreview)
	assert.Equal(t, EngineGemini, cfg.LLM().Engine)
	assert.False(t, cfg.Session().ReuseStreamedAnswer)
	assert.Empty(t, cfg.Database().URL)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Normalize())
		assert.NoError(t, cfg.Validate(), "A valid config should not produce a validation error")

		invalidBudget := *cfg
		invalidBudget.AgentsCfg.Restricted.TurnBudget = 0
		err := invalidBudget.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agents.restricted configuration invalid: turn_budget must be greater than 0")

		invalidTier := *cfg
		invalidTier.AgentsCfg.Privileged.Tier = "enormous"
		err = invalidTier.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agents.privileged")

		invalidTimeout := *cfg
		invalidTimeout.CapabilitiesCfg.InvokeTimeout = 0
		err = invalidTimeout.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "capabilities.invoke_timeout must be a positive duration")

		invalidEngine := *cfg
		invalidEngine.LLMCfg.Engine = "telepathy"
		err = invalidEngine.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm.engine must be one of")

		invalidBackend := *cfg
		invalidBackend.SandboxCfg.Backend = "s3"
		err = invalidBackend.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.backend")

		noAudit := *cfg
		noAudit.AuditCfg.LogFile = ""
		err = noAudit.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "audit.log_file")
	})
}

func TestValidate_LogsOutsideSandbox(t *testing.T) {
	root := t.TempDir()
	base := func() *Config {
		cfg := NewDefaultConfig()
		cfg.SetSandboxRoot(root)
		cfg.AuditCfg.LogFile = filepath.Join(t.TempDir(), "agent_run.log")
		cfg.LoggerCfg.LogFile = filepath.Join(t.TempDir(), "tandem.log")
		require.NoError(t, cfg.Normalize())
		return cfg
	}
	require.NoError(t, base().Validate())

	auditInside := base()
	auditInside.AuditCfg.LogFile = filepath.Join(root, "logs", "agent_run.log")
	assert.ErrorContains(t, auditInside.Validate(), "audit.log_file")

	loggerInside := base()
	loggerInside.LoggerCfg.LogFile = filepath.Join(root, "tandem.log")
	assert.ErrorContains(t, loggerInside.Validate(), "logger.log_file")

	relative := base()
	relative.SandboxCfg.Root = "."
	relative.AuditCfg.LogFile = "agent_run.log"
	assert.ErrorContains(t, relative.Validate(), "must be outside sandbox.root")

	memory := base()
	memory.SandboxCfg.Backend = "memory"
	memory.AuditCfg.LogFile = filepath.Join(root, "agent_run.log")
	assert.NoError(t, memory.Validate(), "an in-memory sandbox cannot reach host files")
}

func TestWithin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "notes")
	assert.True(t, Within(root, root))
	assert.True(t, Within(root, filepath.Join(root, "a", "b.log")))
	assert.False(t, Within(root, filepath.Join(root+"-old", "b.log")))
	assert.False(t, Within(root, filepath.Dir(root)))
	assert.False(t, Within("", filepath.Join(root, "b.log")))
}

func TestNormalize(t *testing.T) {
	t.Run("relative roots become absolute", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetSandboxRoot("docs")
		require.NoError(t, cfg.Normalize())
		assert.True(t, filepath.IsAbs(cfg.Sandbox().Root))
		assert.Equal(t, "docs", filepath.Base(cfg.Sandbox().Root))
	})

	t.Run("log files become absolute", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.AuditCfg.LogFile = "logs/agent_run.log"
		require.NoError(t, cfg.Normalize())
		assert.True(t, filepath.IsAbs(cfg.Audit().LogFile))
		assert.Equal(t, "agent_run.log", filepath.Base(cfg.Audit().LogFile))
	})

	t.Run("memory backend keeps the root as given", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SandboxCfg.Backend = "memory"
		cfg.SetSandboxRoot("/virtual")
		require.NoError(t, cfg.Normalize())
		assert.Equal(t, "/virtual", cfg.Sandbox().Root)
	})
}

// -- Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
sandbox:
  root: "/tmp/tandem-sandbox"
agents:
  restricted:
    turn_budget: 7
    skills: ["file-finder"]
  privileged:
    turn_budget: 3
    tier: "powerful"
session:
  reuse_streamed_answer: true
llm:
  engine: "json"
  models:
    flash:
      model: "gemini-2.5-flash"
      api_key: "from-file"
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tandem-sandbox", cfg.Sandbox().Root)
	assert.Equal(t, 7, cfg.Agents().Restricted.TurnBudget)
	assert.Equal(t, []string{"file-finder"}, cfg.Agents().Restricted.Skills)
	assert.Equal(t, "powerful", cfg.Agents().Privileged.Tier)
	assert.True(t, cfg.Session().ReuseStreamedAnswer)
	assert.Equal(t, EngineJSON, cfg.LLM().Engine)
	// Defaults survive partial files.
	assert.Equal(t, 300, cfg.Audit().UpdatePreview)

	m := cfg.LLM().ModelFor("gemini-2.5-flash")
	assert.Equal(t, "from-file", m.APIKey)
	assert.Equal(t, "gemini-2.5-flash", m.Model)
	assert.Equal(t, ProviderGemini, m.Provider)
}

func TestNewConfigFromViper_InvalidRejected(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agents.privileged.turn_budget", -1)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestModelFor_Fallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	r := LLMRouterConfig{}

	m := r.ModelFor("gemini-2.5-pro")
	assert.Equal(t, "gemini-2.5-pro", m.Model)
	assert.Equal(t, "env-key", m.APIKey)
	assert.Equal(t, ProviderGemini, m.Provider)
	assert.Positive(t, m.APITimeout)
}
