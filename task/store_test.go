package task

import (
	"errors"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "taskloop-run-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGetRun(t *testing.T) {
	store := newTestStore(t)

	run := NewRun("Plan a picnic")
	run.Tasks.Append(New("Check weather"))
	run.Tasks.Append(New("Buy snacks"))

	id, err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id == "" {
		t.Fatal("CreateRun returned empty ID")
	}
	if run.ID != id {
		t.Errorf("run.ID = %q, want %q", run.ID, id)
	}

	got, err := store.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Objective != "Plan a picnic" {
		t.Errorf("Objective = %q, want %q", got.Objective, "Plan a picnic")
	}
	if got.Status != StatusSeeding {
		t.Errorf("Status = %q, want %q", got.Status, StatusSeeding)
	}
	if got.Cursor != -1 {
		t.Errorf("Cursor = %d, want -1", got.Cursor)
	}
	if got.Tasks.Len() != 2 {
		t.Fatalf("Tasks.Len() = %d, want 2", got.Tasks.Len())
	}
	second, _ := got.Tasks.At(1)
	if second.Name != "Buy snacks" {
		t.Errorf("task 1 = %q, want %q", second.Name, "Buy snacks")
	}
}

func TestSQLiteStore_SaveRun_GrowsTaskList(t *testing.T) {
	store := newTestStore(t)

	run := NewRun("objective")
	run.Tasks.Append(New("first"))
	if _, err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := run.Tasks.Complete(0, "done first"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	run.Tasks.Append(New("second"))
	run.Cursor = 0
	run.Iterations = 1
	run.Status = StatusTerminated
	run.Final = "done first"
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusTerminated {
		t.Errorf("Status = %q, want terminated", got.Status)
	}
	if got.Final != "done first" {
		t.Errorf("Final = %q, want %q", got.Final, "done first")
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if got.Tasks.Len() != 2 {
		t.Fatalf("Tasks.Len() = %d, want 2", got.Tasks.Len())
	}
	first, _ := got.Tasks.At(0)
	if !first.Done || first.Result != "done first" {
		t.Errorf("task 0 = %+v, want done with result", first)
	}
	second, _ := got.Tasks.At(1)
	if second.Done {
		t.Errorf("task 1 should still be pending")
	}
}

func TestSQLiteStore_SaveRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	run := NewRun("x")
	run.ID = "nonexistent"
	err := store.SaveRun(run)
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("SaveRun error = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteStore_GetRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRun("nonexistent"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun error = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteStore_DeleteRun(t *testing.T) {
	store := newTestStore(t)

	run := NewRun("to delete")
	run.Tasks.Append(New("only"))
	id, err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := store.DeleteRun(id); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := store.GetRun(id); err == nil {
		t.Fatal("expected error getting deleted run")
	}
	if err := store.DeleteRun(id); err == nil {
		t.Fatal("expected error deleting run twice")
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := newTestStore(t)

	statuses := []Status{StatusTerminated, StatusFailed, StatusTerminated}
	for i, st := range statuses {
		run := NewRun("objective")
		run.Tasks.Append(New("task"))
		run.Status = st
		if _, err := store.CreateRun(run); err != nil {
			t.Fatalf("CreateRun %d: %v", i, err)
		}
	}

	all, err := store.ListRuns(Filter{})
	if err != nil {
		t.Fatalf("ListRuns all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns all: got %d, want 3", len(all))
	}
	for _, r := range all {
		if r.Tasks.Len() != 1 {
			t.Errorf("run %s has %d tasks, want 1", r.ID, r.Tasks.Len())
		}
	}

	terminated := StatusTerminated
	done, err := store.ListRuns(Filter{Status: &terminated})
	if err != nil {
		t.Fatalf("ListRuns terminated: %v", err)
	}
	if len(done) != 2 {
		t.Errorf("ListRuns terminated: got %d, want 2", len(done))
	}

	limited, err := store.ListRuns(Filter{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListRuns limit 2: got %d, want 2", len(limited))
	}
}

func TestSQLiteStore_ListRuns_Offset(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := store.CreateRun(NewRun("objective")); err != nil {
			t.Fatalf("CreateRun %d: %v", i, err)
		}
	}

	rest, err := store.ListRuns(Filter{Offset: 2})
	if err != nil {
		t.Fatalf("ListRuns offset: %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("ListRuns offset 2: got %d, want 1", len(rest))
	}

	page, err := store.ListRuns(Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns page: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("ListRuns limit 1 offset 1: got %d, want 1", len(page))
	}

	past, err := store.ListRuns(Filter{Offset: 5})
	if err != nil {
		t.Fatalf("ListRuns past end: %v", err)
	}
	if len(past) != 0 {
		t.Errorf("ListRuns offset 5: got %d, want 0", len(past))
	}
}
