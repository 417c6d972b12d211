package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// CreateRunWithSteps inserts a run and its full step plan in one
// transaction. The run comes back with id and timestamps set.
func (s *Store) CreateRunWithSteps(run *WorkflowRun, steps []WorkflowStep) error {
	now := s.now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = RunRunning
	}
	run.TotalSteps = len(steps)

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.NamedExec(`
		INSERT INTO workflow_runs (created_at, updated_at, task_id, robot_id, status,
		                           current_step_index, total_steps, current_vendor_task_id, last_error)
		VALUES (:created_at, :updated_at, :task_id, :robot_id, :status,
		        :current_step_index, :total_steps, :current_vendor_task_id, :last_error)`, run)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for i := range steps {
		steps[i].RunID = run.ID
		steps[i].StepIndex = i
		if steps[i].StopRadius == 0 {
			steps[i].StopRadius = 1.0
		}
		sres, err := tx.NamedExec(`
			INSERT INTO workflow_steps (run_id, step_index, kind, code, area_id, x, y, yaw,
			                            stop_radius, wait_seconds, completed_at, decision,
			                            decision_payload, label)
			VALUES (:run_id, :step_index, :kind, :code, :area_id, :x, :y, :yaw,
			        :stop_radius, :wait_seconds, :completed_at, :decision,
			        :decision_payload, :label)`, steps[i])
		if err != nil {
			return fmt.Errorf("insert step %d: %w", i, err)
		}
		if steps[i].ID, err = sres.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun fetches one run by id.
func (s *Store) GetRun(id int64) (*WorkflowRun, error) {
	var r WorkflowRun
	if err := s.db.Get(&r, `SELECT * FROM workflow_runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// UpdateRun persists mutable run fields and bumps updated_at.
func (s *Store) UpdateRun(r *WorkflowRun) error {
	r.UpdatedAt = s.now()
	_, err := s.db.NamedExec(`
		UPDATE workflow_runs SET updated_at = :updated_at, status = :status,
		       current_step_index = :current_step_index,
		       current_vendor_task_id = :current_vendor_task_id,
		       last_error = :last_error
		WHERE id = :id`, r)
	return err
}

// Steps returns the full plan of a run in index order.
func (s *Store) Steps(runID int64) ([]WorkflowStep, error) {
	var out []WorkflowStep
	err := s.db.Select(&out, `
		SELECT * FROM workflow_steps WHERE run_id = ? ORDER BY step_index ASC`, runID)
	return out, err
}

// StepAt returns one step of a run by index.
func (s *Store) StepAt(runID int64, index int) (*WorkflowStep, error) {
	var st WorkflowStep
	err := s.db.Get(&st, `
		SELECT * FROM workflow_steps WHERE run_id = ? AND step_index = ?`, runID, index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStep persists a step's completion fields.
func (s *Store) UpdateStep(st *WorkflowStep) error {
	_, err := s.db.NamedExec(`
		UPDATE workflow_steps SET completed_at = :completed_at, decision = :decision,
		       decision_payload = :decision_payload
		WHERE id = :id`, st)
	return err
}

// ListRuns returns runs filtered by status (empty = all), newest first.
func (s *Store) ListRuns(status RunStatus, limit int) ([]WorkflowRun, error) {
	q := `SELECT * FROM workflow_runs`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY updated_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []WorkflowRun
	err := s.db.Select(&out, q, args...)
	return out, err
}

// RunningRuns returns RUNNING runs in stable id order, the order the
// executor advances them in.
func (s *Store) RunningRuns() ([]WorkflowRun, error) {
	var out []WorkflowRun
	err := s.db.Select(&out, `
		SELECT * FROM workflow_runs WHERE status = ? ORDER BY id ASC`, RunRunning)
	return out, err
}

// RobotBusy reports whether the robot has a RUNNING run.
func (s *Store) RobotBusy(robotID string) (bool, error) {
	var n int
	err := s.db.Get(&n, `
		SELECT COUNT(*) FROM workflow_runs WHERE robot_id = ? AND status = ?`,
		robotID, RunRunning)
	return n > 0, err
}

// ActiveRunForTask returns the non-terminal run for a task, if any.
func (s *Store) ActiveRunForTask(taskID int64) (*WorkflowRun, error) {
	var r WorkflowRun
	err := s.db.Get(&r, `
		SELECT * FROM workflow_runs WHERE task_id = ? AND status = ?
		ORDER BY id DESC LIMIT 1`, taskID, RunRunning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
