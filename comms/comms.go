// Package comms provides the run event bus that carries orchestration progress.
package comms

import (
	"context"
	"time"
)

// EventType identifies the kind of run event.
type EventType string

const (
	TypeStateChanged  EventType = "state_changed"  // run moved to a new state
	TypeTaskAdded     EventType = "task_added"     // planner appended a task
	TypeTaskCompleted EventType = "task_completed" // a task slot received its result
	TypeRunTerminated EventType = "run_terminated" // stop flag raised, final answer available
	TypeRunFailed     EventType = "run_failed"     // fatal planning or execution error
)

// Event is one progress notification for a run.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Status    string    `json:"status,omitempty"`
	Index     int       `json:"index"`          // task position, -1 when not task scoped
	Task      string    `json:"task,omitempty"` // name of the task executed
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes published events.
type Handler func(ctx context.Context, ev *Event) error

// Bus fans run events out to subscribers.
type Bus interface {
	// Publish delivers ev to subscribers of ev.RunID and to wildcard subscribers.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers a handler for events of the given run. An empty
	// runID subscribes to every run. Returns an unsubscribe function.
	Subscribe(runID string, handler Handler) (unsubscribe func())

	// History returns recent events for the given run, or for all runs when
	// runID is empty.
	History(runID string, limit int) ([]*Event, error)
}
