package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskloop/provider"
	"github.com/GoCodeAlone/taskloop/task"
	"github.com/cenkalti/backoff/v4"
	"github.com/kaptinlin/jsonrepair"
)

const (
	defaultMaxRetries      = 3
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 30 * time.Second
)

// LLMConfig controls how the LLM service talks to its provider.
type LLMConfig struct {
	// MaxRetries bounds retries of temporary provider failures. Negative
	// disables retries; zero selects the default.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
}

// LLM implements Service on top of a chat provider. It is safe for
// concurrent use when the provider is.
type LLM struct {
	provider provider.Provider
	cfg      LLMConfig
	logger   *slog.Logger
}

// NewLLM creates an LLM-backed reasoning service.
func NewLLM(p provider.Provider, cfg LLMConfig) *LLM {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{provider: p, cfg: cfg, logger: logger}
}

// taskPayload is the wire form of a task in prompts and answers.
type taskPayload struct {
	Name   string   `json:"name"`
	Done   flexBool `json:"done,omitempty"`
	Result string   `json:"result,omitempty"`
}

func (p taskPayload) task() task.Task {
	return task.Task{Name: p.Name, Done: bool(p.Done), Result: p.Result}
}

func payloadOf(t task.Task) taskPayload {
	return taskPayload{Name: t.Name, Done: flexBool(t.Done), Result: t.Result}
}

type decomposeResponse struct {
	Tasks []taskPayload `json:"tasks"`
	// TasksList accepts the nested {"tasks_list": {"list": [...]}} shape some models echo back.
	TasksList *struct {
		List []taskPayload `json:"list"`
	} `json:"tasks_list,omitempty"`
}

type planResponse struct {
	Add     flexBool    `json:"add"`
	NewTask taskPayload `json:"new_task"`
}

type executeResponse struct {
	Result string   `json:"result"`
	Stop   flexBool `json:"stop"`
}

// Decompose implements Service.
func (l *LLM) Decompose(ctx context.Context, objective string) ([]task.Task, error) {
	input := map[string]any{"objective": objective}

	var out decomposeResponse
	if err := l.ask(ctx, OpDecompose, decomposeSystemPrompt, input, &out); err != nil {
		return nil, &PlanningError{Op: OpDecompose, Err: err}
	}
	payloads := out.Tasks
	if len(payloads) == 0 && out.TasksList != nil {
		payloads = out.TasksList.List
	}
	tasks := make([]task.Task, len(payloads))
	for i, p := range payloads {
		tasks[i] = p.task()
	}
	tasks, err := ValidateTasks(tasks)
	if err != nil {
		return nil, &PlanningError{Op: OpDecompose, Err: err}
	}
	return tasks, nil
}

// PlanNext implements Service.
func (l *LLM) PlanNext(ctx context.Context, objective string, tasks []task.Task) (Decision, error) {
	list := make([]taskPayload, len(tasks))
	for i, t := range tasks {
		list[i] = payloadOf(t)
	}
	input := map[string]any{"objective": objective, "tasks_list": list}

	var out planResponse
	if err := l.ask(ctx, OpPlanNext, planNextSystemPrompt, input, &out); err != nil {
		return Decision{}, &PlanningError{Op: OpPlanNext, Err: err}
	}
	d, err := ValidateDecision(Decision{Add: bool(out.Add), Candidate: out.NewTask.task()})
	if err != nil {
		return Decision{}, &PlanningError{Op: OpPlanNext, Err: err}
	}
	return d, nil
}

// Execute implements Service.
func (l *LLM) Execute(ctx context.Context, objective string, t task.Task) (Outcome, error) {
	input := map[string]any{"objective": objective, "task": payloadOf(t)}

	var out executeResponse
	if err := l.ask(ctx, "execute", executeSystemPrompt, input, &out); err != nil {
		return Outcome{}, &ExecutionError{Task: t.Name, Err: err}
	}
	o, err := ValidateOutcome(Outcome{Result: strings.TrimSpace(out.Result), Stop: bool(out.Stop)})
	if err != nil {
		return Outcome{}, &ExecutionError{Task: t.Name, Err: err}
	}
	return o, nil
}

// ask sends one system + user exchange and decodes the JSON answer into out.
func (l *LLM) ask(ctx context.Context, op, system string, input any, out any) error {
	user, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: string(user)},
	}

	resp, err := l.chat(ctx, op, messages)
	if err != nil {
		return err
	}
	l.logger.Debug("reasoning response",
		slog.String("op", op),
		slog.String("provider", l.provider.Name()),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)

	if err := decodeJSON(resp.Content, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// chat calls the provider, retrying temporary API errors with exponential backoff.
func (l *LLM) chat(ctx context.Context, op string, messages []provider.Message) (*provider.Response, error) {
	var resp *provider.Response
	attempt := 0
	operation := func() error {
		attempt++
		r, err := l.provider.Chat(ctx, messages)
		if err == nil {
			resp = r
			return nil
		}
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.Temporary() {
			l.logger.Warn("provider call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Any("err", err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialInterval
	b.MaxInterval = l.cfg.MaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.cfg.MaxRetries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// decodeJSON extracts the JSON object from a model answer and decodes it,
// repairing near-JSON (trailing commas, single quotes, truncation) when the
// strict decode fails.
func decodeJSON(content string, out any) error {
	raw := extractJSON(content)
	if raw == "" {
		return errors.New("no JSON object in response")
	}
	strictErr := json.Unmarshal([]byte(raw), out)
	if strictErr == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("decode: %v (repair failed: %v)", strictErr, err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode repaired json: %w", err)
	}
	return nil
}

func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		// Truncated answer: hand the tail to the repairer.
		return s[start:]
	}
	return s[start : end+1]
}

// flexBool decodes JSON booleans and the string forms models sometimes emit.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`)) {
	case "true", "yes", "1":
		*b = true
	case "false", "no", "0", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}
