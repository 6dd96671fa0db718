package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/taskloop/reasoning"
	"github.com/GoCodeAlone/taskloop/task"
)

// fakeService is a scripted reasoning.Service that records every call and
// tracks how many calls overlap.
type fakeService struct {
	mu sync.Mutex

	seed    []task.Task
	seedErr error

	// plans are returned by PlanNext in order; once consumed PlanNext
	// answers Add=false with an empty candidate.
	plans   []reasoning.Decision
	planErr error

	// exec answers the n-th Execute call (1-based). Nil returns a result
	// derived from n and the task name without stopping.
	exec func(n int, t task.Task) (reasoning.Outcome, error)

	// delay is slept inside every call to widen any overlap window.
	delay time.Duration

	calls       []string
	executed    []task.Task
	planInputs  [][]task.Task
	inFlight    int
	maxInFlight int
}

func (f *fakeService) enter(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeService) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeService) Decompose(_ context.Context, _ string) ([]task.Task, error) {
	f.enter("decompose")
	defer f.leave()
	if f.seedErr != nil {
		return nil, f.seedErr
	}
	out := make([]task.Task, len(f.seed))
	copy(out, f.seed)
	return out, nil
}

func (f *fakeService) PlanNext(_ context.Context, _ string, tasks []task.Task) (reasoning.Decision, error) {
	f.enter("plan_next")
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.planInputs = append(f.planInputs, tasks)
	if f.planErr != nil {
		return reasoning.Decision{}, f.planErr
	}
	if len(f.plans) == 0 {
		return reasoning.Decision{}, nil
	}
	d := f.plans[0]
	f.plans = f.plans[1:]
	return d, nil
}

func (f *fakeService) Execute(_ context.Context, _ string, t task.Task) (reasoning.Outcome, error) {
	f.enter("execute")
	defer f.leave()

	f.mu.Lock()
	f.executed = append(f.executed, t)
	n := len(f.executed)
	f.mu.Unlock()

	if f.exec != nil {
		return f.exec(n, t)
	}
	return reasoning.Outcome{Result: fmt.Sprintf("result %d: %s", n, t.Name)}, nil
}

func (f *fakeService) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// stopAt returns an exec function that raises the stop flag on call n.
func stopAt(n int, final string) func(int, task.Task) (reasoning.Outcome, error) {
	return func(i int, t task.Task) (reasoning.Outcome, error) {
		if i == n {
			return reasoning.Outcome{Result: final, Stop: true}, nil
		}
		return reasoning.Outcome{Result: fmt.Sprintf("result %d: %s", i, t.Name)}, nil
	}
}

func add(name string) reasoning.Decision {
	return reasoning.Decision{Add: true, Candidate: task.New(name)}
}

func keep(name string) reasoning.Decision {
	return reasoning.Decision{Candidate: task.Task{Name: name}}
}

func picnicSeed() []task.Task {
	return []task.Task{task.New("Check weather"), task.New("Buy snacks")}
}
