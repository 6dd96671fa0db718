// Package config defines the taskloop application configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskloop/orchestrator"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// Provider types accepted in ProviderConfig.Type.
const (
	ProviderMock       = "mock"
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// Environment variables that override file settings.
const (
	EnvProvider      = "TASKLOOP_PROVIDER"
	EnvModel         = "TASKLOOP_MODEL"
	EnvPolicy        = "TASKLOOP_POLICY"
	EnvMaxIterations = "TASKLOOP_MAX_ITERATIONS"
)

// Config is the top-level taskloop configuration.
type Config struct {
	Provider     ProviderConfig     `json:"provider" yaml:"provider"`
	Reasoning    ReasoningConfig    `json:"reasoning" yaml:"reasoning"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Server       ServerConfig       `json:"server" yaml:"server"`
	Auth         AuthConfig         `json:"auth" yaml:"auth"`
	DataDir      string             `json:"data_dir" yaml:"data_dir"`
	LogLevel     string             `json:"log_level" yaml:"log_level"`
}

// ProviderConfig selects and configures the language model backend.
type ProviderConfig struct {
	Type    string `json:"type" yaml:"type"` // "mock", "anthropic", "openai", "openrouter"
	Model   string `json:"model,omitempty" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"`
	// APIKey is used as-is when set; otherwise the key is read from APIKeyEnv.
	APIKey    string        `json:"-" yaml:"api_key"`
	APIKeyEnv string        `json:"api_key_env,omitempty" yaml:"api_key_env"`
	MaxTokens int           `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	// Scenario is a YAML script for the mock provider.
	Scenario string `json:"scenario,omitempty" yaml:"scenario"`
}

// ReasoningConfig controls retries of temporary provider failures.
type ReasoningConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`
	MaxInterval   time.Duration `json:"max_interval" yaml:"max_interval"`
}

// OrchestratorConfig controls the run loop.
type OrchestratorConfig struct {
	Policy        string `json:"policy" yaml:"policy"` // "cursor" or "legacy"
	MaxIterations int    `json:"max_iterations" yaml:"max_iterations"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr              string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
	MaxConcurrentRuns int    `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string        `json:"-" yaml:"jwt_secret"`
	AdminUser string        `json:"admin_user" yaml:"admin_user"`
	AdminPass string        `json:"-" yaml:"admin_pass"` // bcrypt hash
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Type:    ProviderMock,
			Timeout: 2 * time.Minute,
		},
		Reasoning: ReasoningConfig{
			MaxRetries:    3,
			RetryInterval: time.Second,
			MaxInterval:   30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			Policy:        string(orchestrator.PolicyCursor),
			MaxIterations: 25,
		},
		Server: ServerConfig{
			Addr:              ":9090",
			MaxConcurrentRuns: 4,
		},
		Auth: AuthConfig{
			AdminUser: "admin",
			TokenTTL:  24 * time.Hour,
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv loads variables from the given dotenv files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments ".env" is tried.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := gotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from TASKLOOP_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvProvider); v != "" {
		c.Provider.Type = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv(EnvPolicy); v != "" {
		c.Orchestrator.Policy = v
	}
	if v := os.Getenv(EnvMaxIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxIterations, err)
		}
		c.Orchestrator.MaxIterations = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case ProviderMock, ProviderAnthropic, ProviderOpenAI, ProviderOpenRouter:
	default:
		return fmt.Errorf("provider.type: unknown provider %q", c.Provider.Type)
	}
	if _, err := orchestrator.ParsePolicy(c.Orchestrator.Policy); err != nil {
		return fmt.Errorf("orchestrator.policy: %w", err)
	}
	if c.Orchestrator.MaxIterations < 0 {
		return fmt.Errorf("orchestrator.max_iterations: must not be negative, got %d", c.Orchestrator.MaxIterations)
	}
	if c.Server.MaxConcurrentRuns < 1 {
		return fmt.Errorf("server.max_concurrent_runs: must be at least 1, got %d", c.Server.MaxConcurrentRuns)
	}
	if c.Provider.MaxTokens < 0 {
		return fmt.Errorf("provider.max_tokens: must not be negative, got %d", c.Provider.MaxTokens)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// APIKey returns the provider API key: the literal key when configured,
// otherwise the value of APIKeyEnv or the provider's conventional variable.
func (c *Config) APIKey() string {
	if c.Provider.APIKey != "" {
		return c.Provider.APIKey
	}
	env := c.Provider.APIKeyEnv
	if env == "" {
		switch c.Provider.Type {
		case ProviderAnthropic:
			env = "ANTHROPIC_API_KEY"
		case ProviderOpenAI:
			env = "OPENAI_API_KEY"
		case ProviderOpenRouter:
			env = "OPENROUTER_API_KEY"
		default:
			return ""
		}
	}
	return os.Getenv(env)
}

// DBPath returns the SQLite database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "taskloop.db")
}

// ParseLogLevel converts "debug", "info", "warn" or "error" to a slog level.
// An empty string is info.
func ParseLogLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
