// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Sandbox() SandboxConfig
	Agents() AgentsConfig
	Capabilities() CapabilitiesConfig
	LLM() LLMRouterConfig
	Audit() AuditConfig
	Session() SessionConfig
	Skills() SkillsConfig

	// Setters driven by CLI flags.
	SetSandboxRoot(root string)
	SetReuseStreamedAnswer(b bool)
	SetEngineKind(kind EngineKind)
}

// Config holds the entire application configuration. Fields are exported so
// viper can decode into them; callers go through the Interface getters.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	SandboxCfg      SandboxConfig      `mapstructure:"sandbox" yaml:"sandbox"`
	AgentsCfg       AgentsConfig       `mapstructure:"agents" yaml:"agents"`
	CapabilitiesCfg CapabilitiesConfig `mapstructure:"capabilities" yaml:"capabilities"`
	LLMCfg          LLMRouterConfig    `mapstructure:"llm" yaml:"llm"`
	AuditCfg        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	SessionCfg      SessionConfig      `mapstructure:"session" yaml:"session"`
	SkillsCfg       SkillsConfig       `mapstructure:"skills" yaml:"skills"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig         { return c.DatabaseCfg }
func (c *Config) Sandbox() SandboxConfig           { return c.SandboxCfg }
func (c *Config) Agents() AgentsConfig             { return c.AgentsCfg }
func (c *Config) Capabilities() CapabilitiesConfig { return c.CapabilitiesCfg }
func (c *Config) LLM() LLMRouterConfig             { return c.LLMCfg }
func (c *Config) Audit() AuditConfig               { return c.AuditCfg }
func (c *Config) Session() SessionConfig           { return c.SessionCfg }
func (c *Config) Skills() SkillsConfig             { return c.SkillsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetSandboxRoot(root string)    { c.SandboxCfg.Root = root }
func (c *Config) SetReuseStreamedAnswer(b bool) { c.SessionCfg.ReuseStreamedAnswer = b }
func (c *Config) SetEngineKind(kind EngineKind) { c.LLMCfg.Engine = kind }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the optional session ledger connection. An empty URL
// disables the ledger.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SandboxConfig describes the filesystem both agents share.
type SandboxConfig struct {
	// Root is the sandbox root. "~" is expanded and relative roots are made absolute.
	Root string `mapstructure:"root" yaml:"root"`
	// Backend is "os" or "memory". The memory backend is for dry runs.
	Backend         string `mapstructure:"backend" yaml:"backend"`
	TreeDepth       int    `mapstructure:"tree_depth" yaml:"tree_depth"`
	TreeFilesPerDir int    `mapstructure:"tree_files_per_dir" yaml:"tree_files_per_dir"`
}

// AgentProfile configures one agent.
type AgentProfile struct {
	TurnBudget int      `mapstructure:"turn_budget" yaml:"turn_budget"`
	Tier       string   `mapstructure:"tier" yaml:"tier"`
	Skills     []string `mapstructure:"skills" yaml:"skills"`
}

// AgentsConfig holds the restricted and privileged agent profiles.
type AgentsConfig struct {
	Restricted    AgentProfile  `mapstructure:"restricted" yaml:"restricted"`
	Privileged    AgentProfile  `mapstructure:"privileged" yaml:"privileged"`
	EngineTimeout time.Duration `mapstructure:"engine_timeout" yaml:"engine_timeout"`
}

// CapabilitiesConfig bounds capability invocations.
type CapabilitiesConfig struct {
	InvokeTimeout time.Duration `mapstructure:"invoke_timeout" yaml:"invoke_timeout"`
	SearchMaxHits int           `mapstructure:"search_max_hits" yaml:"search_max_hits"`
	ReadMaxBytes  int64         `mapstructure:"read_max_bytes" yaml:"read_max_bytes"`
}

// EngineKind selects the reasoning engine implementation.
type EngineKind string

const (
	// EngineGemini uses native function calling through the genai SDK.
	EngineGemini EngineKind = "gemini"
	// EngineJSON drives a text-only LLM through a JSON decision protocol.
	EngineJSON EngineKind = "json"
)

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	Engine               EngineKind                `mapstructure:"engine" yaml:"engine"`
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	// ProxyURL routes model API traffic through an HTTP proxy. Empty falls back
	// to the HTTPS_PROXY environment.
	ProxyURL          string            `mapstructure:"proxy_url" yaml:"proxy_url"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int               `mapstructure:"burst" yaml:"burst"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// AuditConfig configures the append-only audit sink.
type AuditConfig struct {
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	// Preview lengths (in runes) for message and update records.
	MessagePreview int `mapstructure:"message_preview" yaml:"message_preview"`
	UpdatePreview  int `mapstructure:"update_preview" yaml:"update_preview"`
}

// SessionConfig configures the query session controller.
type SessionConfig struct {
	// ReuseStreamedAnswer returns the streamed pass's answer instead of running
	// a separate answer pass.
	ReuseStreamedAnswer bool          `mapstructure:"reuse_streamed_answer" yaml:"reuse_streamed_answer"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SkillsConfig points at an optional YAML file of additional skills.
type SkillsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// DefaultStateDir is where log files live unless configured otherwise. It sits
// outside any sandbox rooted at or below the working directory.
func DefaultStateDir() string {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "tandem")
	}
	return filepath.Join(home, ".tandem")
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tandem")
	v.SetDefault("logger.log_file", filepath.Join(DefaultStateDir(), "tandem.log"))
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Sandbox --
	v.SetDefault("sandbox.root", ".")
	v.SetDefault("sandbox.backend", "os")
	v.SetDefault("sandbox.tree_depth", 4)
	v.SetDefault("sandbox.tree_files_per_dir", 12)

	// -- Agents --
	v.SetDefault("agents.engine_timeout", "90s")
	v.SetDefault("agents.restricted.turn_budget", 25)
	v.SetDefault("agents.restricted.tier", "fast")
	v.SetDefault("agents.restricted.skills", []string{"file-finder", "node-lookup"})
	v.SetDefault("agents.privileged.turn_budget", 10)
	v.SetDefault("agents.privileged.tier", "fast")
	v.SetDefault("agents.privileged.skills", []string{})

	// -- Capabilities --
	v.SetDefault("capabilities.invoke_timeout", "30s")
	v.SetDefault("capabilities.search_max_hits", 50)
	v.SetDefault("capabilities.read_max_bytes", 256*1024)

	// -- LLM --
	v.SetDefault("llm.engine", string(EngineGemini))
	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")

	// -- Audit --
	v.SetDefault("audit.log_file", filepath.Join(DefaultStateDir(), "agent_run.log"))
	v.SetDefault("audit.max_size", 50)
	v.SetDefault("audit.max_backups", 3)
	v.SetDefault("audit.max_age", 90)
	v.SetDefault("audit.compress", false)
	v.SetDefault("audit.message_preview", 600)
	v.SetDefault("audit.update_preview", 300)

	// -- Session --
	v.SetDefault("session.reuse_streamed_answer", false)
	v.SetDefault("session.timeout", "10m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "TANDEM_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The genai SDK convention is GEMINI_API_KEY; fill any model left without a key.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for name, m := range cfg.LLMCfg.Models {
			if m.APIKey == "" {
				m.APIKey = key
				cfg.LLMCfg.Models[name] = m
			}
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Normalize expands and absolutizes the sandbox root.
func (c *Config) Normalize() error {
	root, err := homedir.Expand(strings.TrimSpace(c.SandboxCfg.Root))
	if err != nil {
		return fmt.Errorf("failed to expand sandbox.root: %w", err)
	}
	if root == "" {
		root = "."
	}
	if c.SandboxCfg.Backend != "memory" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve sandbox.root: %w", err)
		}
		root = abs
	}
	c.SandboxCfg.Root = root

	if c.AuditCfg.LogFile, err = absFile(c.AuditCfg.LogFile); err != nil {
		return fmt.Errorf("failed to resolve audit.log_file: %w", err)
	}
	if c.LoggerCfg.LogFile, err = absFile(c.LoggerCfg.LogFile); err != nil {
		return fmt.Errorf("failed to resolve logger.log_file: %w", err)
	}
	return nil
}

func absFile(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

// Within reports whether the host path p is root or lies below it.
func Within(root, p string) bool {
	if root == "" || p == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.SandboxCfg.Root == "" {
		return fmt.Errorf("sandbox.root is a required configuration field")
	}
	switch c.SandboxCfg.Backend {
	case "os", "memory":
	default:
		return fmt.Errorf("sandbox.backend must be one of [os memory], got %q", c.SandboxCfg.Backend)
	}
	if err := c.AgentsCfg.Restricted.Validate(); err != nil {
		return fmt.Errorf("agents.restricted configuration invalid: %w", err)
	}
	if err := c.AgentsCfg.Privileged.Validate(); err != nil {
		return fmt.Errorf("agents.privileged configuration invalid: %w", err)
	}
	if c.AgentsCfg.EngineTimeout <= 0 {
		return fmt.Errorf("agents.engine_timeout must be a positive duration")
	}
	if c.CapabilitiesCfg.InvokeTimeout <= 0 {
		return fmt.Errorf("capabilities.invoke_timeout must be a positive duration")
	}
	if c.AuditCfg.LogFile == "" {
		return fmt.Errorf("audit.log_file is a required configuration field")
	}
	// The privileged agent can write anywhere under the root, so neither log
	// may live there.
	if c.SandboxCfg.Backend != "memory" {
		if Within(c.SandboxCfg.Root, c.AuditCfg.LogFile) {
			return fmt.Errorf("audit.log_file %s must be outside sandbox.root %s", c.AuditCfg.LogFile, c.SandboxCfg.Root)
		}
		if Within(c.SandboxCfg.Root, c.LoggerCfg.LogFile) {
			return fmt.Errorf("logger.log_file %s must be outside sandbox.root %s", c.LoggerCfg.LogFile, c.SandboxCfg.Root)
		}
	}
	if c.AuditCfg.MessagePreview <= 0 || c.AuditCfg.UpdatePreview <= 0 {
		return fmt.Errorf("audit preview lengths must be positive integers")
	}
	switch c.LLMCfg.Engine {
	case EngineGemini, EngineJSON:
	default:
		return fmt.Errorf("llm.engine must be one of [%s %s], got %q", EngineGemini, EngineJSON, c.LLMCfg.Engine)
	}
	return nil
}

// Validate checks an agent profile.
func (p *AgentProfile) Validate() error {
	if p.TurnBudget <= 0 {
		return fmt.Errorf("turn_budget must be greater than 0")
	}
	switch p.Tier {
	case "", "fast", "powerful":
	default:
		return fmt.Errorf("tier must be 'fast' or 'powerful', got %q", p.Tier)
	}
	return nil
}

// ModelFor returns the configuration for the named model, matching either the
// entry key or its model field. Models without an entry fall back to a Gemini
// model of that name keyed by GEMINI_API_KEY.
func (r LLMRouterConfig) ModelFor(name string) LLMModelConfig {
	for key, m := range r.Models {
		if key != name && m.Model != name {
			continue
		}
		if m.Model == "" {
			m.Model = key
		}
		if m.Provider == "" {
			m.Provider = ProviderGemini
		}
		return m
	}
	return LLMModelConfig{
		Provider:    ProviderGemini,
		Model:       name,
		APIKey:      os.Getenv("GEMINI_API_KEY"),
		APITimeout:  90 * time.Second,
		Temperature: 0.2,
		MaxTokens:   2000,
	}
}
