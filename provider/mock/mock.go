// Package mock provides a scripted provider for tests and offline runs.
package mock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/GoCodeAlone/taskloop/provider"
	"gopkg.in/yaml.v3"
)

const defaultResponse = "Task acknowledged. Working on it."

// ErrExhausted is returned once a non-looping script has no steps left.
var ErrExhausted = errors.New("mock: script exhausted")

// Step is one scripted reply.
type Step struct {
	Content string `yaml:"content" json:"content"`
	// Error makes the step fail with this message instead of replying.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
	// Status makes the step fail with a *provider.APIError carrying this code.
	Status int           `yaml:"status,omitempty" json:"status,omitempty"`
	Delay  time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// Scenario is a named sequence of steps loadable from YAML.
type Scenario struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
	Loop        bool   `yaml:"loop,omitempty" json:"loop,omitempty"`
}

// LoadScenario reads a Scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", path, err)
	}
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %q: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", path)
	}
	return &scenario, nil
}

// MockProvider implements provider.Provider by replaying scripted steps.
// It is safe for concurrent use.
type MockProvider struct {
	mu      sync.Mutex
	steps   []Step
	loop    bool
	idx     int
	respond Responder
	calls   [][]provider.Message
}

// Responder computes a reply from the conversation.
type Responder func(ctx context.Context, messages []provider.Message) (string, error)

// New creates a MockProvider that cycles through the given responses.
func New(responses ...string) *MockProvider {
	steps := make([]Step, len(responses))
	for i, r := range responses {
		steps[i] = Step{Content: r}
	}
	return NewScripted(steps, true)
}

// NewScripted creates a MockProvider from steps. If loop is false, Chat
// returns ErrExhausted after the last step.
func NewScripted(steps []Step, loop bool) *MockProvider {
	return &MockProvider{steps: steps, loop: loop}
}

// NewFunc creates a MockProvider that answers every call with fn.
func NewFunc(fn Responder) *MockProvider {
	return &MockProvider{respond: fn}
}

// FromScenario creates a MockProvider from a loaded scenario.
func FromScenario(s *Scenario) *MockProvider {
	return NewScripted(s.Steps, s.Loop)
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return "mock" }

// Chat returns the next scripted step.
func (m *MockProvider) Chat(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]provider.Message(nil), messages...))
	if m.respond != nil {
		m.mu.Unlock()
		content, err := m.respond(ctx, messages)
		if err != nil {
			return nil, err
		}
		return &provider.Response{Content: content, Usage: provider.Usage{OutputTokens: len(content)}}, nil
	}
	if len(m.steps) == 0 {
		m.mu.Unlock()
		return &provider.Response{Content: defaultResponse}, nil
	}
	if m.idx >= len(m.steps) {
		if !m.loop {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: all %d steps consumed", ErrExhausted, len(m.steps))
		}
		m.idx = 0
	}
	step := m.steps[m.idx]
	m.idx++
	m.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if step.Status != 0 {
		return nil, &provider.APIError{Provider: "mock", StatusCode: step.Status, Body: step.Error}
	}
	if step.Error != "" {
		return nil, fmt.Errorf("mock: %s", step.Error)
	}
	return &provider.Response{
		Content: step.Content,
		Usage:   provider.Usage{OutputTokens: len(step.Content)},
	}, nil
}

// Calls returns the conversations received so far, in order.
func (m *MockProvider) Calls() [][]provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]provider.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// Remaining returns how many unconsumed steps remain.
func (m *MockProvider) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem := len(m.steps) - m.idx
	if rem < 0 {
		return 0
	}
	return rem
}
