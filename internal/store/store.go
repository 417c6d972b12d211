package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dohr-michael/fleetd/internal/clock"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed persistence layer. All mutating operations
// commit in a single transaction; ClaimTask is the sole concurrency
// barrier for assignment.
type Store struct {
	db  *sqlx.DB
	clk clock.Clock
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func Open(path string, clk clock.Clock) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; a second pooled connection only buys
	// lock contention (and would split an in-memory database).
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if clk == nil {
		clk = clock.System{}
	}
	return &Store{db: db, clk: clk}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() time.Time { return s.clk.Now() }

// ---------------------------------------------------------------------------
// Tasks

// CreateTask inserts a task and fills in its id and timestamps.
// Status defaults to READY, or PENDING when release_at is in the future.
func (s *Store) CreateTask(t *Task) error {
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		if t.ReleaseAt != nil && t.ReleaseAt.After(now) {
			t.Status = TaskPending
		} else {
			t.Status = TaskReady
		}
	}
	if t.TargetKind == "" {
		t.TargetKind = "POI"
	}
	if t.CreatedBy == "" {
		t.CreatedBy = "operator"
	}

	res, err := s.db.NamedExec(`
		INSERT INTO tasks (created_at, updated_at, status, kind, title, notes,
		                   target_kind, target_ref, release_at, assigned_robot_id, created_by)
		VALUES (:created_at, :updated_at, :status, :kind, :title, :notes,
		        :target_kind, :target_ref, :release_at, :assigned_robot_id, :created_by)`, t)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// GetTask fetches one task by id.
func (s *Store) GetTask(id int64) (*Task, error) {
	var t Task
	if err := s.db.Get(&t, `SELECT * FROM tasks WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// UpdateTask persists all mutable task fields and bumps updated_at.
func (s *Store) UpdateTask(t *Task) error {
	t.UpdatedAt = s.now()
	_, err := s.db.NamedExec(`
		UPDATE tasks SET updated_at = :updated_at, status = :status, kind = :kind,
		       title = :title, notes = :notes, target_kind = :target_kind,
		       target_ref = :target_ref, release_at = :release_at,
		       assigned_robot_id = :assigned_robot_id
		WHERE id = :id`, t)
	return err
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status TaskStatus
	Limit  int
}

// ListTasks returns tasks newest first.
func (s *Store) ListTasks(f TaskFilter) ([]Task, error) {
	q := `SELECT * FROM tasks`
	args := []any{}
	if f.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var out []Task
	err := s.db.Select(&out, q, args...)
	return out, err
}

// ListReadyUnassigned returns READY tasks with no robot bound.
func (s *Store) ListReadyUnassigned() ([]Task, error) {
	var out []Task
	err := s.db.Select(&out, `
		SELECT * FROM tasks
		WHERE status = ? AND assigned_robot_id IS NULL
		ORDER BY created_at ASC, id ASC`, TaskReady)
	return out, err
}

// PromoteDue moves PENDING tasks whose release_at is absent or ≤ now to
// READY. Idempotent; returns the number promoted.
func (s *Store) PromoteDue(now time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE status = ? AND (release_at IS NULL OR release_at <= ?)`,
		TaskReady, now, TaskPending, now)
	if err != nil {
		return 0, fmt.Errorf("promote due: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ClaimTask atomically binds a READY, unassigned task to a robot. The
// row predicate is the only concurrency barrier: a false return means
// another actor claimed (or retired) the task first.
func (s *Store) ClaimTask(taskID int64, robotID string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, assigned_robot_id = ?, updated_at = ?
		WHERE id = ? AND status = ? AND assigned_robot_id IS NULL`,
		TaskAssigned, robotID, s.now(), taskID, TaskReady)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// StatusCounts returns per-status task counts plus TOTAL.
func (s *Store) StatusCounts() (map[string]int, error) {
	rows, err := s.db.Queryx(`SELECT status, COUNT(*) AS n FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{
		string(TaskPending): 0, string(TaskReady): 0, string(TaskAssigned): 0,
		string(TaskDone): 0, string(TaskCanceled): 0, "TOTAL": 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
		out["TOTAL"] += n
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Priority overrides

// SetOverride upserts the operator override for a task.
func (s *Store) SetOverride(taskID int64, override int) error {
	_, err := s.db.Exec(`
		INSERT INTO priority_overrides (task_id, override, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET override = excluded.override,
		                                    updated_at = excluded.updated_at`,
		taskID, override, s.now())
	return err
}

// ClearOverride removes an override; returns false when none existed.
func (s *Store) ClearOverride(taskID int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM priority_overrides WHERE task_id = ?`, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetOverride returns the override for a task, 0 when unset.
func (s *Store) GetOverride(taskID int64) (int, error) {
	var v int
	err := s.db.Get(&v, `SELECT override FROM priority_overrides WHERE task_id = ?`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Overrides returns all overrides keyed by task id.
func (s *Store) Overrides() (map[int64]int, error) {
	var rows []PriorityOverride
	if err := s.db.Select(&rows, `SELECT * FROM priority_overrides`); err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(rows))
	for _, r := range rows {
		out[r.TaskID] = r.Override
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Reset

// Reset wipes tasks, runs, steps, and overrides. Returns rows deleted per
// table. POI data survives: it mirrors the vendor, not operator state.
func (s *Store) Reset() (map[string]int64, error) {
	deleted := map[string]int64{}
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, t := range []struct{ name, table string }{
		{"workflow_steps", "workflow_steps"},
		{"workflow_runs", "workflow_runs"},
		{"priority_overrides", "priority_overrides"},
		{"tasks", "tasks"},
	} {
		res, err := tx.Exec(`DELETE FROM ` + t.table)
		if err != nil {
			return nil, fmt.Errorf("reset %s: %w", t.name, err)
		}
		n, _ := res.RowsAffected()
		deleted[t.name] = n
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deleted, nil
}
