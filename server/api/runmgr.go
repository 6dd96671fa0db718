package api

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/taskloop/task"
	"golang.org/x/sync/semaphore"
)

// Runner creates and executes runs. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	NewRun(objective string) (*task.Run, error)
	Execute(ctx context.Context, r *task.Run) error
}

// Manager implements RunLauncher by executing runs on background goroutines,
// at most maxConcurrent at a time.
type Manager struct {
	mu     sync.Mutex
	runner Runner
	sem    *semaphore.Weighted
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewManager creates a Manager. maxConcurrent below 1 is treated as 1.
func NewManager(runner Runner, maxConcurrent int, logger *slog.Logger) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner: runner,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		active: make(map[string]context.CancelFunc),
		logger: logger,
	}
}

// Start implements RunLauncher. It fails with ErrBusy instead of queueing.
func (m *Manager) Start(objective string) (*task.Run, error) {
	if !m.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	r, err := m.runner.NewRun(objective)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}
	snapshot := r.Clone()

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.active[r.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.sem.Release(1)
		defer func() {
			m.mu.Lock()
			delete(m.active, r.ID)
			m.mu.Unlock()
			cancel()
		}()

		m.logger.Info("run launched", slog.String("run", r.ID))
		if err := m.runner.Execute(ctx, r); err != nil {
			m.logger.Warn("run ended with error", slog.String("run", r.ID), slog.Any("err", err))
		}
	}()
	return snapshot, nil
}

// Cancel implements RunLauncher.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.active[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	cancel()
	return nil
}

// Active implements RunLauncher.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every active run and waits for them to finish or for ctx
// to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- in-memory run store (used when persistence is disabled) ---

// MemStore is an in-memory task.Store.
type MemStore struct {
	mu   sync.RWMutex
	runs map[string]*task.Run
	seq  int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string]*task.Run)}
}

func (s *MemStore) CreateRun(r *task.Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if r.ID == "" {
		r.ID = fmt.Sprintf("run-%d", s.seq)
	}
	if r.Tasks == nil {
		r.Tasks = task.NewList()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.runs[r.ID] = r.Clone()
	return r.ID, nil
}

func (s *MemStore) SaveRun(r *task.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return fmt.Errorf("%w: %s", task.ErrRunNotFound, r.ID)
	}
	r.UpdatedAt = time.Now().UTC()
	s.runs[r.ID] = r.Clone()
	return nil
}

func (s *MemStore) GetRun(id string) (*task.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrRunNotFound, id)
	}
	return r.Clone(), nil
}

func (s *MemStore) ListRuns(filter task.Filter) ([]*task.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*task.Run
	for _, r := range s.runs {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemStore) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("%w: %s", task.ErrRunNotFound, id)
	}
	delete(s.runs, id)
	return nil
}
