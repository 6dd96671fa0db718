// Package backend assembles the provider, reasoning service and orchestrator
// from configuration.
package backend

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/GoCodeAlone/taskloop/comms"
	"github.com/GoCodeAlone/taskloop/config"
	"github.com/GoCodeAlone/taskloop/orchestrator"
	"github.com/GoCodeAlone/taskloop/provider"
	"github.com/GoCodeAlone/taskloop/provider/mock"
	"github.com/GoCodeAlone/taskloop/reasoning"
	"github.com/GoCodeAlone/taskloop/task"
)

// NewProvider builds the configured chat provider. The mock provider replays
// the configured scenario, or answers with the offline responder when no
// scenario is set.
func NewProvider(cfg *config.Config) (provider.Provider, error) {
	pc := cfg.Provider
	client := &http.Client{Timeout: pc.Timeout}

	switch pc.Type {
	case config.ProviderMock:
		if pc.Scenario == "" {
			return mock.NewFunc(reasoning.OfflineResponder), nil
		}
		s, err := mock.LoadScenario(pc.Scenario)
		if err != nil {
			return nil, err
		}
		return mock.FromScenario(s), nil

	case config.ProviderAnthropic:
		key := cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("anthropic: no API key (set %s)", keyEnv(cfg, "ANTHROPIC_API_KEY"))
		}
		return provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:     key,
			Model:      pc.Model,
			BaseURL:    pc.BaseURL,
			MaxTokens:  pc.MaxTokens,
			HTTPClient: client,
		}), nil

	case config.ProviderOpenAI, config.ProviderOpenRouter:
		key := cfg.APIKey()
		if key == "" {
			def := "OPENAI_API_KEY"
			if pc.Type == config.ProviderOpenRouter {
				def = "OPENROUTER_API_KEY"
			}
			return nil, fmt.Errorf("%s: no API key (set %s)", pc.Type, keyEnv(cfg, def))
		}
		base := pc.BaseURL
		if base == "" && pc.Type == config.ProviderOpenRouter {
			base = provider.OpenRouterBaseURL
		}
		return provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:     key,
			Model:      pc.Model,
			BaseURL:    base,
			MaxTokens:  pc.MaxTokens,
			JSONMode:   pc.Type == config.ProviderOpenAI,
			HTTPClient: client,
			Name:       pc.Type,
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

func keyEnv(cfg *config.Config, def string) string {
	if cfg.Provider.APIKeyEnv != "" {
		return cfg.Provider.APIKeyEnv
	}
	return def
}

// Options carries the optional collaborators of an orchestrator.
type Options struct {
	Bus    comms.Bus
	Store  task.Store
	Logger *slog.Logger
}

// New builds an orchestrator over the configured provider.
func New(cfg *config.Config, opts Options) (*orchestrator.Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithProvider(cfg, p, opts)
}

// NewWithProvider builds an orchestrator over an existing provider.
func NewWithProvider(cfg *config.Config, p provider.Provider, opts Options) (*orchestrator.Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svc := reasoning.NewLLM(p, reasoning.LLMConfig{
		MaxRetries:      retries(cfg.Reasoning.MaxRetries),
		InitialInterval: cfg.Reasoning.RetryInterval,
		MaxInterval:     cfg.Reasoning.MaxInterval,
		Logger:          logger,
	})
	return orchestrator.New(orchestrator.Config{
		Service:       svc,
		Policy:        orchestrator.Policy(cfg.Orchestrator.Policy),
		MaxIterations: cfg.Orchestrator.MaxIterations,
		Bus:           opts.Bus,
		Store:         opts.Store,
		Logger:        logger,
	})
}

// retries maps the config convention (0 = no retries) onto LLMConfig's
// (0 = default, negative = none).
func retries(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
