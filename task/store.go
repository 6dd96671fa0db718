package task

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	objective    TEXT NOT NULL,
	status       TEXT NOT NULL,
	cursor       INTEGER NOT NULL DEFAULT -1,
	iterations   INTEGER NOT NULL DEFAULT 0,
	final        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	done     INTEGER NOT NULL DEFAULT 0,
	result   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);
`

// ErrRunNotFound is returned when no run matches the requested ID.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore persists runs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateRun persists a new run with its current tasks and sets its ID,
// CreatedAt, and UpdatedAt.
func (s *SQLiteStore) CreateRun(r *Run) (string, error) {
	r.ID = uuid.NewString()
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Tasks == nil {
		r.Tasks = NewList()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO runs
			(id, objective, status, cursor, iterations, final, error, created_at, updated_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Objective, string(r.Status), r.Cursor, r.Iterations,
		r.Final, r.Error, r.CreatedAt, r.UpdatedAt, nullTime(r.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	if err := saveTasks(tx, r); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return r.ID, nil
}

// SaveRun writes the run row and upserts every task slot, updating UpdatedAt
// automatically. Slots are never deleted since the list only grows.
func (s *SQLiteStore) SaveRun(r *Run) error {
	r.UpdatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`
		UPDATE runs SET
			objective=?, status=?, cursor=?, iterations=?, final=?, error=?,
			updated_at=?, completed_at=?
		WHERE id=?`,
		r.Objective, string(r.Status), r.Cursor, r.Iterations, r.Final, r.Error,
		r.UpdatedAt, nullTime(r.CompletedAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, r.ID)
	}
	if err := saveTasks(tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveTasks(tx *sql.Tx, r *Run) error {
	if r.Tasks == nil {
		return nil
	}
	for i, t := range r.Tasks.Tasks() {
		_, err := tx.Exec(`
			INSERT INTO tasks (run_id, position, name, done, result)
			VALUES (?,?,?,?,?)
			ON CONFLICT(run_id, position) DO UPDATE SET
				name=excluded.name, done=excluded.done, result=excluded.result`,
			r.ID, i, t.Name, t.Done, t.Result,
		)
		if err != nil {
			return fmt.Errorf("save task %d: %w", i, err)
		}
	}
	return nil
}

// GetRun retrieves a run and its tasks by ID.
func (s *SQLiteStore) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT * FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadTasks(r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns runs matching the filter, newest first, with their tasks.
func (s *SQLiteStore) ListRuns(filter Filter) ([]*Run, error) {
	q := strings.Builder{}
	q.WriteString("SELECT * FROM runs WHERE 1=1")
	args := []any{}

	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	q.WriteString(" ORDER BY created_at DESC")
	switch {
	case filter.Limit > 0:
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	case filter.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT; -1 means no limit.
		q.WriteString(" LIMIT -1")
	}
	if filter.Offset > 0 {
		q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Single connection: tasks can only be queried once the runs cursor is closed.
	for _, r := range runs {
		if err := s.loadTasks(r); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteRun removes a run and its tasks by ID.
func (s *SQLiteStore) DeleteRun(id string) error {
	res, err := s.db.Exec("DELETE FROM runs WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) loadTasks(r *Run) error {
	rows, err := s.db.Query(`SELECT name, done, result FROM tasks WHERE run_id = ? ORDER BY position ASC`, r.ID)
	if err != nil {
		return fmt.Errorf("load tasks for run %s: %w", r.ID, err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.Name, &t.Done, &t.Result); err != nil {
			return err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	r.Tasks = NewList(tasks...)
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanRun.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var status string
	var completedAt sql.NullTime

	err := s.Scan(
		&r.ID, &r.Objective, &status, &r.Cursor, &r.Iterations,
		&r.Final, &r.Error,
		&r.CreatedAt, &r.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
