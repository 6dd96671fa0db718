// Package orchestrator drives a run through its states: seed the plan,
// execute the seed batch, then alternate between deciding on plan growth and
// executing one step until the reasoning service signals stop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/taskloop/comms"
	"github.com/GoCodeAlone/taskloop/reasoning"
	"github.com/GoCodeAlone/taskloop/task"
	"github.com/google/uuid"
)

var (
	// ErrIterationLimit is returned when a run exceeds its DECIDING cycle budget.
	ErrIterationLimit = errors.New("iteration limit reached")

	// ErrCursorOutOfRange is returned by the legacy policy when the cursor has
	// moved past the end of the task list.
	ErrCursorOutOfRange = errors.New("cursor out of range")

	// ErrPlanExhausted is returned by the cursor policy when no pending task
	// remains and the planner declined to add one.
	ErrPlanExhausted = errors.New("no pending task to execute")

	// ErrRunStarted is returned when Execute is given a run that has already
	// left the seeding state.
	ErrRunStarted = errors.New("run already started")
)

// Config holds the orchestrator's collaborators and limits.
type Config struct {
	Service reasoning.Service
	Policy  Policy
	// MaxIterations bounds the number of DECIDING cycles per run. Zero means
	// unbounded.
	MaxIterations int
	// Bus receives progress events. Optional.
	Bus comms.Bus
	// Store persists the run after every transition. Optional.
	Store  task.Store
	Logger *slog.Logger
}

// Orchestrator runs objectives against a reasoning service. It keeps no
// per-run state, so one value may drive many runs concurrently.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Service == nil {
		return nil, errors.New("orchestrator: reasoning service is required")
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	cfg.Policy = policy
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("orchestrator: negative max iterations %d", cfg.MaxIterations)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, logger: logger}, nil
}

// Policy returns the step policy in use.
func (o *Orchestrator) Policy() Policy { return o.cfg.Policy }

// NewRun creates a run for objective and persists it when a store is
// configured. The run is not started.
func (o *Orchestrator) NewRun(objective string) (*task.Run, error) {
	r := task.NewRun(objective)
	if o.cfg.Store == nil {
		r.ID = uuid.NewString()
		now := time.Now().UTC()
		r.CreatedAt, r.UpdatedAt = now, now
		return r, nil
	}
	if _, err := o.cfg.Store.CreateRun(r); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

// Run creates a run for objective and executes it to completion. The run is
// returned even when execution fails so callers can inspect partial progress.
func (o *Orchestrator) Run(ctx context.Context, objective string) (*task.Run, error) {
	r, err := o.NewRun(objective)
	if err != nil {
		return nil, err
	}
	return r, o.Execute(ctx, r)
}

// Execute drives r from SEEDING until it terminates or fails. On success
// r.Final holds the final answer. Planning and execution failures are
// returned unchanged as *reasoning.PlanningError or *reasoning.ExecutionError.
func (o *Orchestrator) Execute(ctx context.Context, r *task.Run) error {
	if r.Status != task.StatusSeeding || r.Tasks.Len() != 0 {
		return fmt.Errorf("%w: %s is %s", ErrRunStarted, r.ID, r.Status)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	logger := o.logger.With(slog.String("run", r.ID))
	logger.Info("run started", slog.String("objective", r.Objective), slog.String("policy", string(o.cfg.Policy)))

	if err := o.seed(ctx, r, logger); err != nil {
		return o.fail(ctx, r, logger, err)
	}

	for {
		if o.cfg.MaxIterations > 0 && r.Iterations >= o.cfg.MaxIterations {
			return o.fail(ctx, r, logger, fmt.Errorf("%w: %d", ErrIterationLimit, o.cfg.MaxIterations))
		}
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, r, logger, err)
		}

		stop, err := o.step(ctx, r, logger)
		if err != nil {
			return o.fail(ctx, r, logger, err)
		}
		if stop {
			o.terminate(ctx, r, logger)
			return nil
		}
	}
}

// seed runs SEEDING and EXECUTING_SEED. Stop flags of seed tasks are ignored.
func (o *Orchestrator) seed(ctx context.Context, r *task.Run, logger *slog.Logger) error {
	o.transition(ctx, r, task.StatusSeeding)

	tasks, err := o.cfg.Service.Decompose(ctx, r.Objective)
	if err != nil {
		return asPlanningError(reasoning.OpDecompose, err)
	}
	tasks, err = reasoning.ValidateTasks(tasks)
	if err != nil {
		return &reasoning.PlanningError{Op: reasoning.OpDecompose, Err: err}
	}
	for _, t := range tasks {
		idx := r.Tasks.Append(t)
		o.publish(ctx, &comms.Event{Type: comms.TypeTaskAdded, RunID: r.ID, Index: idx, Task: t.Name})
	}
	logger.Info("plan seeded", slog.Int("tasks", len(tasks)))

	o.transition(ctx, r, task.StatusExecutingSeed)
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := o.execute(ctx, r.Objective, t)
		if err != nil {
			return err
		}
		if err := r.Tasks.Complete(i, out.Result); err != nil {
			return fmt.Errorf("complete seed task %d: %w", i, err)
		}
		o.completed(ctx, r, logger, i, t.Name, out.Result)
	}
	r.Cursor = len(tasks) - 1
	o.save(r, logger)
	return nil
}

// step runs one DECIDING / EXECUTING_STEP cycle and reports whether the
// reasoning service raised the stop flag.
func (o *Orchestrator) step(ctx context.Context, r *task.Run, logger *slog.Logger) (bool, error) {
	o.transition(ctx, r, task.StatusDeciding)

	d, err := o.cfg.Service.PlanNext(ctx, r.Objective, r.Tasks.Tasks())
	if err != nil {
		return false, asPlanningError(reasoning.OpPlanNext, err)
	}
	d, err = reasoning.ValidateDecision(d)
	if err != nil {
		return false, &reasoning.PlanningError{Op: reasoning.OpPlanNext, Err: err}
	}
	if d.Add {
		idx := r.Tasks.Append(d.Candidate)
		logger.Info("task added", slog.Int("index", idx), slog.String("task", d.Candidate.Name))
		o.publish(ctx, &comms.Event{Type: comms.TypeTaskAdded, RunID: r.ID, Index: idx, Task: d.Candidate.Name})
	}

	o.transition(ctx, r, task.StatusExecutingStep)

	var out reasoning.Outcome
	switch o.cfg.Policy {
	case PolicyLegacy:
		out, err = o.stepLegacy(ctx, r, logger, d)
	default:
		out, err = o.stepCursor(ctx, r, logger)
	}
	if err != nil {
		return false, err
	}
	r.Iterations++
	if out.Stop {
		r.Final = out.Result
		return true, nil
	}
	o.save(r, logger)
	return false, nil
}

// stepCursor executes the first pending slot after the cursor and completes it.
func (o *Orchestrator) stepCursor(ctx context.Context, r *task.Run, logger *slog.Logger) (reasoning.Outcome, error) {
	idx := r.Tasks.Pending(r.Cursor)
	if idx < 0 {
		return reasoning.Outcome{}, &reasoning.PlanningError{Op: reasoning.OpPlanNext, Err: ErrPlanExhausted}
	}
	t, err := r.Tasks.At(idx)
	if err != nil {
		return reasoning.Outcome{}, err
	}
	out, err := o.execute(ctx, r.Objective, t)
	if err != nil {
		return reasoning.Outcome{}, err
	}
	if err := r.Tasks.Complete(idx, out.Result); err != nil {
		return reasoning.Outcome{}, fmt.Errorf("complete task %d: %w", idx, err)
	}
	r.Cursor = idx
	o.completed(ctx, r, logger, idx, t.Name, out.Result)
	return out, nil
}

// stepLegacy executes the planner's candidate and writes the result into the
// cursor slot, then advances the cursor by one.
func (o *Orchestrator) stepLegacy(ctx context.Context, r *task.Run, logger *slog.Logger, d reasoning.Decision) (reasoning.Outcome, error) {
	if d.Candidate.Name == "" {
		return reasoning.Outcome{}, &reasoning.PlanningError{
			Op:  reasoning.OpPlanNext,
			Err: fmt.Errorf("%w: candidate has no name", reasoning.ErrMalformedResponse),
		}
	}
	if r.Cursor < 0 || r.Cursor >= r.Tasks.Len() {
		return reasoning.Outcome{}, fmt.Errorf("%w: %d (len %d)", ErrCursorOutOfRange, r.Cursor, r.Tasks.Len())
	}

	out, err := o.execute(ctx, r.Objective, d.Candidate)
	if err != nil {
		return reasoning.Outcome{}, err
	}
	slot := r.Cursor
	prev, _ := r.Tasks.At(slot)
	replaced, err := r.Tasks.Overwrite(slot, out.Result)
	if err != nil {
		return reasoning.Outcome{}, fmt.Errorf("write slot %d: %w", slot, err)
	}
	if replaced {
		logger.Warn("completed slot overwritten",
			slog.Int("index", slot),
			slog.String("slot_task", prev.Name),
			slog.String("executed_task", d.Candidate.Name),
		)
	}
	o.completed(ctx, r, logger, slot, d.Candidate.Name, out.Result)
	if !out.Stop {
		r.Cursor++
	}
	return out, nil
}

func (o *Orchestrator) execute(ctx context.Context, objective string, t task.Task) (reasoning.Outcome, error) {
	out, err := o.cfg.Service.Execute(ctx, objective, t)
	if err != nil {
		var ee *reasoning.ExecutionError
		if errors.As(err, &ee) {
			return reasoning.Outcome{}, err
		}
		return reasoning.Outcome{}, &reasoning.ExecutionError{Task: t.Name, Err: err}
	}
	out, err = reasoning.ValidateOutcome(out)
	if err != nil {
		return reasoning.Outcome{}, &reasoning.ExecutionError{Task: t.Name, Err: err}
	}
	return out, nil
}

func asPlanningError(op string, err error) error {
	var pe *reasoning.PlanningError
	if errors.As(err, &pe) {
		return err
	}
	return &reasoning.PlanningError{Op: op, Err: err}
}

func (o *Orchestrator) transition(ctx context.Context, r *task.Run, status task.Status) {
	r.Status = status
	o.publish(ctx, &comms.Event{Type: comms.TypeStateChanged, RunID: r.ID, Status: string(status), Index: -1})
}

func (o *Orchestrator) completed(ctx context.Context, r *task.Run, logger *slog.Logger, idx int, name, result string) {
	logger.Info("task completed", slog.Int("index", idx), slog.String("task", name))
	o.publish(ctx, &comms.Event{
		Type:   comms.TypeTaskCompleted,
		RunID:  r.ID,
		Status: string(r.Status),
		Index:  idx,
		Task:   name,
		Result: result,
	})
}

func (o *Orchestrator) terminate(ctx context.Context, r *task.Run, logger *slog.Logger) {
	now := time.Now().UTC()
	r.Status = task.StatusTerminated
	r.CompletedAt = &now
	logger.Info("run terminated", slog.Int("tasks", r.Tasks.Len()), slog.Int("iterations", r.Iterations))
	o.save(r, logger)
	o.publish(ctx, &comms.Event{
		Type:   comms.TypeRunTerminated,
		RunID:  r.ID,
		Status: string(r.Status),
		Index:  r.Cursor,
		Result: r.Final,
	})
}

func (o *Orchestrator) fail(ctx context.Context, r *task.Run, logger *slog.Logger, err error) error {
	now := time.Now().UTC()
	r.Status = task.StatusFailed
	r.Error = err.Error()
	r.CompletedAt = &now
	logger.Error("run failed", slog.Any("err", err))
	o.save(r, logger)
	// The run context may already be cancelled; the failure event still goes out.
	o.publish(context.WithoutCancel(ctx), &comms.Event{
		Type:   comms.TypeRunFailed,
		RunID:  r.ID,
		Status: string(r.Status),
		Index:  -1,
		Error:  r.Error,
	})
	return err
}

func (o *Orchestrator) save(r *task.Run, logger *slog.Logger) {
	if o.cfg.Store == nil {
		return
	}
	if err := o.cfg.Store.SaveRun(r); err != nil {
		logger.Warn("failed to save run", slog.Any("err", err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev *comms.Event) {
	if o.cfg.Bus == nil {
		return
	}
	if err := o.cfg.Bus.Publish(ctx, ev); err != nil {
		o.logger.Warn("failed to publish event", slog.String("type", string(ev.Type)), slog.Any("err", err))
	}
}
