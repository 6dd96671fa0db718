package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/taskloop/comms"
	"github.com/GoCodeAlone/taskloop/server/api"
	"github.com/GoCodeAlone/taskloop/task"
)

// --- Test doubles ---

type fakeLauncher struct {
	store  task.Store
	busy   bool
	active map[string]bool
}

func newFakeLauncher(store task.Store) *fakeLauncher {
	return &fakeLauncher{store: store, active: make(map[string]bool)}
}

func (f *fakeLauncher) Start(objective string) (*task.Run, error) {
	if f.busy {
		return nil, api.ErrBusy
	}
	r := task.NewRun(objective)
	if _, err := f.store.CreateRun(r); err != nil {
		return nil, err
	}
	f.active[r.ID] = true
	return r.Clone(), nil
}

func (f *fakeLauncher) Cancel(id string) error {
	if !f.active[id] {
		return fmt.Errorf("%w: %s", api.ErrNotActive, id)
	}
	delete(f.active, id)
	return nil
}

func (f *fakeLauncher) Active() []string {
	ids := []string{}
	for id := range f.active {
		ids = append(ids, id)
	}
	return ids
}

// --- Test helpers ---

func newHandlers(t *testing.T) (*api.Handlers, *http.ServeMux) {
	t.Helper()
	store := api.NewMemStore()
	mux := http.NewServeMux()
	h := &api.Handlers{
		Runs:    newFakeLauncher(store),
		Store:   store,
		Bus:     comms.NewInMemoryBus(),
		Logger:  slog.Default(),
		Version: "test",
	}
	h.RegisterRoutes(mux)
	mux.HandleFunc("GET /api/status", h.StatusHandler())
	return h, mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestListRuns_Empty(t *testing.T) {
	_, mux := newHandlers(t)
	rr := do(t, mux, http.MethodGet, "/api/runs", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var runs []*task.Run
	if err := json.NewDecoder(rr.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if runs == nil {
		t.Error("expected empty array, not null")
	}
}

func TestStartAndGetRun(t *testing.T) {
	_, mux := newHandlers(t)

	rr := do(t, mux, http.MethodPost, "/api/runs", `{"objective":"Plan a picnic"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var created task.Run
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Objective != "Plan a picnic" {
		t.Fatalf("created = %+v", created)
	}

	rr2 := do(t, mux, http.MethodGet, "/api/runs/"+created.ID, "")
	if rr2.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
	var got task.Run
	if err := json.NewDecoder(rr2.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != created.ID || got.Status != task.StatusSeeding {
		t.Errorf("got = %+v", got)
	}

	rr3 := do(t, mux, http.MethodGet, "/api/runs", "")
	var runs []*task.Run
	if err := json.NewDecoder(rr3.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestStartRun_Validation(t *testing.T) {
	_, mux := newHandlers(t)
	if rr := do(t, mux, http.MethodPost, "/api/runs", `{"objective":"   "}`); rr.Code != http.StatusBadRequest {
		t.Errorf("blank objective: expected 400, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/api/runs", `not json`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", rr.Code)
	}
}

func TestStartRun_Busy(t *testing.T) {
	h, mux := newHandlers(t)
	h.Runs.(*fakeLauncher).busy = true

	rr := do(t, mux, http.MethodPost, "/api/runs", `{"objective":"Plan a picnic"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rr.Code)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	_, mux := newHandlers(t)
	rr := do(t, mux, http.MethodGet, "/api/runs/nonexistent", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestCancelAndDeleteRun(t *testing.T) {
	_, mux := newHandlers(t)
	rr := do(t, mux, http.MethodPost, "/api/runs", `{"objective":"Plan a picnic"}`)
	var created task.Run
	json.NewDecoder(rr.Body).Decode(&created) //nolint:errcheck

	if rr := do(t, mux, http.MethodDelete, "/api/runs/"+created.ID, ""); rr.Code != http.StatusConflict {
		t.Errorf("delete active: expected 409, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/api/runs/"+created.ID+"/cancel", ""); rr.Code != http.StatusNoContent {
		t.Errorf("cancel: expected 204, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodPost, "/api/runs/"+created.ID+"/cancel", ""); rr.Code != http.StatusConflict {
		t.Errorf("cancel twice: expected 409, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodDelete, "/api/runs/"+created.ID, ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	if rr := do(t, mux, http.MethodGet, "/api/runs/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", rr.Code)
	}
}

func TestRunEvents(t *testing.T) {
	h, mux := newHandlers(t)
	ctx := context.Background()
	h.Bus.Publish(ctx, &comms.Event{Type: comms.TypeTaskCompleted, RunID: "run-a", Result: "Sunny"}) //nolint:errcheck
	h.Bus.Publish(ctx, &comms.Event{Type: comms.TypeTaskCompleted, RunID: "run-b", Result: "Chips"}) //nolint:errcheck

	rr := do(t, mux, http.MethodGet, "/api/runs/run-a/events", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var events []*comms.Event
	if err := json.NewDecoder(rr.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Result != "Sunny" {
		t.Errorf("events = %+v", events)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := newHandlers(t)
	rr := do(t, mux, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", resp["status"])
	}
}

// --- Manager ---

// blockingRunner executes runs until released or cancelled.
type blockingRunner struct {
	store   task.Store
	release chan struct{}
	mu      sync.Mutex
	errs    []error
}

func (b *blockingRunner) NewRun(objective string) (*task.Run, error) {
	r := task.NewRun(objective)
	if _, err := b.store.CreateRun(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *blockingRunner) Execute(ctx context.Context, r *task.Run) error {
	var err error
	select {
	case <-b.release:
		r.Status = task.StatusTerminated
	case <-ctx.Done():
		r.Status = task.StatusFailed
		err = ctx.Err()
	}
	b.mu.Lock()
	b.errs = append(b.errs, err)
	b.mu.Unlock()
	return b.store.SaveRun(r)
}

func TestManager_LimitsConcurrency(t *testing.T) {
	store := api.NewMemStore()
	runner := &blockingRunner{store: store, release: make(chan struct{})}
	m := api.NewManager(runner, 2, slog.Default())

	if _, err := m.Start("one"); err != nil {
		t.Fatalf("Start one: %v", err)
	}
	if _, err := m.Start("two"); err != nil {
		t.Fatalf("Start two: %v", err)
	}
	if _, err := m.Start("three"); err != api.ErrBusy {
		t.Fatalf("Start three: error = %v, want ErrBusy", err)
	}
	if got := len(m.Active()); got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}

	close(runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := len(m.Active()); got != 0 {
		t.Errorf("Active after completion = %d, want 0", got)
	}
	if _, err := m.Start("four"); err != nil {
		t.Errorf("Start after slots freed: %v", err)
	}
	m.Shutdown(ctx) //nolint:errcheck
}

func TestManager_Cancel(t *testing.T) {
	store := api.NewMemStore()
	runner := &blockingRunner{store: store, release: make(chan struct{})}
	m := api.NewManager(runner, 1, nil)

	r, err := m.Start("cancel me")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Cancel(r.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	got, err := store.GetRun(r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if err := m.Cancel(r.ID); err == nil {
		t.Error("expected error cancelling a finished run")
	}
}

func TestMemStore_ListOrderAndFilter(t *testing.T) {
	s := api.NewMemStore()
	for i, status := range []task.Status{task.StatusTerminated, task.StatusFailed, task.StatusTerminated} {
		r := task.NewRun(fmt.Sprintf("obj %d", i))
		r.Status = status
		if _, err := s.CreateRun(r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		if r.CreatedAt.IsZero() || !r.UpdatedAt.Equal(r.CreatedAt) {
			t.Fatalf("CreateRun timestamps = %v / %v, want set and equal", r.CreatedAt, r.UpdatedAt)
		}
		time.Sleep(2 * time.Millisecond)
	}

	all, _ := s.ListRuns(task.Filter{})
	if len(all) != 3 || all[0].Objective != "obj 2" {
		t.Fatalf("ListRuns = %d runs, first %q; want newest first", len(all), all[0].Objective)
	}
	st := task.StatusTerminated
	done, _ := s.ListRuns(task.Filter{Status: &st, Limit: 1})
	if len(done) != 1 || done[0].Objective != "obj 2" {
		t.Errorf("filtered = %+v", done)
	}
	page, _ := s.ListRuns(task.Filter{Offset: 5})
	if len(page) != 0 {
		t.Errorf("offset past end = %d runs, want 0", len(page))
	}
}

func TestMemStore_TimestampsPersist(t *testing.T) {
	s := api.NewMemStore()
	r := task.NewRun("objective")
	id, err := s.CreateRun(r)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("stored CreatedAt is zero")
	}
	created := got.CreatedAt

	time.Sleep(2 * time.Millisecond)
	if err := s.SaveRun(got); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	saved, _ := s.GetRun(id)
	if !saved.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v after save, want %v", saved.CreatedAt, created)
	}
	if !saved.UpdatedAt.After(created) {
		t.Errorf("UpdatedAt = %v, want after %v", saved.UpdatedAt, created)
	}
}
