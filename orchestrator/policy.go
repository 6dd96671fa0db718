package orchestrator

import (
	"fmt"
	"strings"
)

// Policy selects what the EXECUTING_STEP state executes and which slot
// receives the result.
type Policy string

const (
	// PolicyCursor executes the first pending task after the cursor and
	// completes that same slot. Appending a task never changes what runs in
	// the current step.
	PolicyCursor Policy = "cursor"

	// PolicyLegacy executes the planner's candidate and writes its result into
	// the slot at the cursor, which may hold a different, already finished task.
	PolicyLegacy Policy = "legacy"
)

// ParsePolicy converts a configuration value into a Policy. An empty string
// selects PolicyCursor.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyCursor, nil
	case PolicyCursor, PolicyLegacy:
		return p, nil
	default:
		return "", fmt.Errorf("unknown step policy %q (want %q or %q)", s, PolicyCursor, PolicyLegacy)
	}
}
