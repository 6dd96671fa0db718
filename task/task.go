// Package task defines the task list model and run persistence for the orchestration loop.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIndexOutOfRange is returned when a position does not address a task in the list.
	ErrIndexOutOfRange = errors.New("task index out of range")

	// ErrEmptyResult is returned when a task would be marked done without a result.
	ErrEmptyResult = errors.New("task result is empty")

	// ErrAlreadyDone is returned when a completed task would be completed again.
	ErrAlreadyDone = errors.New("task already done")
)

// Task is a unit of work toward the run objective.
type Task struct {
	Name   string `json:"name" yaml:"name"`
	Done   bool   `json:"done" yaml:"done"`
	Result string `json:"result" yaml:"result"`
}

// New returns a pending task with the given name.
func New(name string) Task {
	return Task{Name: name}
}

// List is the ordered, append-only plan of a run. Tasks are addressed by
// position; duplicate names are allowed.
type List struct {
	tasks []Task
}

// NewList returns a list holding copies of the given tasks in order.
func NewList(tasks ...Task) *List {
	l := &List{tasks: make([]Task, 0, len(tasks))}
	l.tasks = append(l.tasks, tasks...)
	return l
}

// Len returns the number of tasks in the list.
func (l *List) Len() int { return len(l.tasks) }

// At returns a copy of the task at position i.
func (l *List) At(i int) (Task, error) {
	if i < 0 || i >= len(l.tasks) {
		return Task{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.tasks))
	}
	return l.tasks[i], nil
}

// Tasks returns a snapshot of the list.
func (l *List) Tasks() []Task {
	out := make([]Task, len(l.tasks))
	copy(out, l.tasks)
	return out
}

// Append adds t to the end of the list and returns its position.
func (l *List) Append(t Task) int {
	l.tasks = append(l.tasks, t)
	return len(l.tasks) - 1
}

// Complete records result for the task at position i and marks it done.
// A task can be completed only once.
func (l *List) Complete(i int, result string) error {
	if i < 0 || i >= len(l.tasks) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.tasks))
	}
	if strings.TrimSpace(result) == "" {
		return ErrEmptyResult
	}
	if l.tasks[i].Done {
		return fmt.Errorf("%w: %d %q", ErrAlreadyDone, i, l.tasks[i].Name)
	}
	l.tasks[i].Result = result
	l.tasks[i].Done = true
	return nil
}

// Overwrite writes result into slot i and marks it done whether or not the
// slot was already done. It reports whether a previous result was replaced.
// Only the legacy step policy uses it.
func (l *List) Overwrite(i int, result string) (replaced bool, err error) {
	if i < 0 || i >= len(l.tasks) {
		return false, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.tasks))
	}
	if strings.TrimSpace(result) == "" {
		return false, ErrEmptyResult
	}
	replaced = l.tasks[i].Done
	l.tasks[i].Result = result
	l.tasks[i].Done = true
	return replaced, nil
}

// Pending returns the position of the first task after position from that is
// not done, or -1.
func (l *List) Pending(from int) int {
	start := from + 1
	if start < 0 {
		start = 0
	}
	for i := start; i < len(l.tasks); i++ {
		if !l.tasks[i].Done {
			return i
		}
	}
	return -1
}

// MarshalJSON encodes the list as a JSON array of tasks.
func (l *List) MarshalJSON() ([]byte, error) {
	if l == nil || l.tasks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.tasks)
}

// UnmarshalJSON decodes a JSON array of tasks.
func (l *List) UnmarshalJSON(data []byte) error {
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return err
	}
	l.tasks = tasks
	return nil
}
