// Package api defines the REST API handlers and interfaces for the taskloop server.
package api

import (
	"errors"

	"github.com/GoCodeAlone/taskloop/task"
)

var (
	// ErrBusy is returned when the maximum number of concurrent runs is active.
	ErrBusy = errors.New("too many active runs")

	// ErrNotActive is returned when cancelling a run that is not executing.
	ErrNotActive = errors.New("run is not active")
)

// RunLauncher is the interface the API uses to start and control runs.
// Implemented by Manager.
type RunLauncher interface {
	// Start creates a run for objective and executes it in the background.
	// The returned run is a snapshot taken before execution begins.
	Start(objective string) (*task.Run, error)

	// Cancel stops an active run.
	Cancel(id string) error

	// Active returns the IDs of runs currently executing.
	Active() []string
}
