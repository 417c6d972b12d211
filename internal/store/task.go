// Package store provides the transactional SQLite persistence layer for
// tasks, priority overrides, workflow runs/steps, and POI data.
package store

import "time"

// TaskStatus is the lifecycle state of a task. Transitions form a DAG:
// PENDING → READY → ASSIGNED → DONE, with CANCELED reachable from any
// non-terminal state. DONE and CANCELED are absorbing.
type TaskStatus string

const (
	TaskPending  TaskStatus = "PENDING"
	TaskReady    TaskStatus = "READY"
	TaskAssigned TaskStatus = "ASSIGNED"
	TaskDone     TaskStatus = "DONE"
	TaskCanceled TaskStatus = "CANCELED"
)

// Terminal reports whether the status is absorbing.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskCanceled
}

// TaskKind is the operator-visible category of work.
type TaskKind string

const (
	KindOrdering TaskKind = "ORDERING"
	KindDelivery TaskKind = "DELIVERY"
	KindCleanup  TaskKind = "CLEANUP"
	KindBilling  TaskKind = "BILLING"
	KindNavigate TaskKind = "NAVIGATE"
	KindCharging TaskKind = "CHARGING"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case KindOrdering, KindDelivery, KindCleanup, KindBilling, KindNavigate, KindCharging:
		return true
	}
	return false
}

// Task is a unit of operator-visible work.
type Task struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Status TaskStatus `db:"status" json:"status"`
	Kind   TaskKind   `db:"kind" json:"kind"`

	Title string  `db:"title" json:"title"`
	Notes *string `db:"notes" json:"notes,omitempty"`

	TargetKind string `db:"target_kind" json:"target_kind"`
	TargetRef  string `db:"target_ref" json:"target_ref"`

	// ReleaseAt delays promotion to READY; nil means release immediately.
	ReleaseAt *time.Time `db:"release_at" json:"release_at,omitempty"`

	AssignedRobotID *string `db:"assigned_robot_id" json:"assigned_robot_id,omitempty"`

	CreatedBy string `db:"created_by" json:"created_by,omitempty"`
}

// AppendNote adds a tagged line to the task's notes audit trail.
func (t *Task) AppendNote(tag, text string) {
	if text == "" {
		return
	}
	line := "\n[" + tag + "] " + text
	if t.Notes == nil {
		n := line
		t.Notes = &n
		return
	}
	n := *t.Notes + line
	t.Notes = &n
}

// PriorityOverride is an operator bias on one task's queue position.
type PriorityOverride struct {
	TaskID    int64     `db:"task_id" json:"task_id"`
	Override  int       `db:"override" json:"override"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
