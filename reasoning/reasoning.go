// Package reasoning defines the capability the orchestrator delegates to:
// decomposing an objective, deciding plan growth and executing tasks.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/taskloop/task"
)

// Operation names carried by PlanningError.
const (
	OpDecompose = "decompose"
	OpPlanNext  = "plan_next"
)

var (
	// ErrNoTasks means no task could be derived from the objective.
	ErrNoTasks = errors.New("no tasks derived from objective")

	// ErrMalformedResponse means the backend answered with unusable output.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrEmptyResult means execution produced no result text.
	ErrEmptyResult = errors.New("empty task result")
)

// Service is the reasoning backend. Every call is synchronous; the
// orchestrator never has more than one call in flight per run.
type Service interface {
	// Decompose turns an objective into a non-empty ordered list of pending tasks.
	Decompose(ctx context.Context, objective string) ([]task.Task, error)

	// PlanNext decides whether the plan should grow by one task.
	PlanNext(ctx context.Context, objective string, tasks []task.Task) (Decision, error)

	// Execute carries out t and reports its result and whether the objective
	// is now satisfied.
	Execute(ctx context.Context, objective string, t task.Task) (Outcome, error)
}

// Decision is the answer of PlanNext. Candidate is meaningful only when Add is true.
type Decision struct {
	Add       bool      `json:"add"`
	Candidate task.Task `json:"new_task"`
}

// Outcome is the answer of Execute.
type Outcome struct {
	Result string `json:"result"`
	Stop   bool   `json:"stop"`
}

// PlanningError reports that decomposition or the growth decision could not
// produce a usable task list or task.
type PlanningError struct {
	Op  string
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning error (%s): %v", e.Op, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ExecutionError reports that a task could not be carried out.
type ExecutionError struct {
	Task string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error (task %q): %v", e.Task, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ValidateTasks checks a decomposition and returns it normalized: names
// trimmed, every task pending with an empty result.
func ValidateTasks(tasks []task.Task) ([]task.Task, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	out := make([]task.Task, len(tasks))
	for i, t := range tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: task %d has no name", ErrMalformedResponse, i)
		}
		out[i] = task.New(name)
	}
	return out, nil
}

// ValidateDecision checks a growth decision. A candidate that is to be
// appended must be named and is reset to pending.
func ValidateDecision(d Decision) (Decision, error) {
	d.Candidate.Name = strings.TrimSpace(d.Candidate.Name)
	if !d.Add {
		return d, nil
	}
	if d.Candidate.Name == "" {
		return Decision{}, fmt.Errorf("%w: new task has no name", ErrMalformedResponse)
	}
	d.Candidate = task.New(d.Candidate.Name)
	return d, nil
}

// ValidateOutcome checks an execution outcome.
func ValidateOutcome(o Outcome) (Outcome, error) {
	if strings.TrimSpace(o.Result) == "" {
		return Outcome{}, ErrEmptyResult
	}
	return o, nil
}
