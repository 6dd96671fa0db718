package task

import "time"

// Status is the orchestration state of a run.
type Status string

const (
	StatusSeeding       Status = "seeding"
	StatusExecutingSeed Status = "executing_seed"
	StatusDeciding      Status = "deciding"
	StatusExecutingStep Status = "executing_step"
	StatusTerminated    Status = "terminated"
	StatusFailed        Status = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusTerminated || s == StatusFailed
}

// Run is the explicit context of one orchestration run: the objective, the
// plan and the cursor into it.
type Run struct {
	ID          string     `json:"id"`
	Objective   string     `json:"objective"`
	Status      Status     `json:"status"`
	Tasks       *List      `json:"tasks"`
	Cursor      int        `json:"cursor"` // -1 until the seed batch is consumed
	Iterations  int        `json:"iterations"`
	Final       string     `json:"final,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRun returns a run for objective in the seeding state with an empty plan.
func NewRun(objective string) *Run {
	return &Run{
		Objective: objective,
		Status:    StatusSeeding,
		Tasks:     NewList(),
		Cursor:    -1,
	}
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	c := *r
	if r.Tasks != nil {
		c.Tasks = NewList(r.Tasks.Tasks()...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Store persists runs and their task lists.
type Store interface {
	// CreateRun persists a new run and returns its assigned ID.
	CreateRun(r *Run) (string, error)

	// SaveRun writes the current state of an existing run, including its tasks.
	SaveRun(r *Run) error

	// GetRun retrieves a run and its tasks by ID.
	GetRun(id string) (*Run, error)

	// ListRuns returns runs matching the filter, newest first.
	ListRuns(filter Filter) ([]*Run, error)

	// DeleteRun removes a run and its tasks.
	DeleteRun(id string) error
}

// Filter controls which runs are returned by ListRuns.
type Filter struct {
	Status *Status `json:"status,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	Offset int     `json:"offset,omitempty"`
}
