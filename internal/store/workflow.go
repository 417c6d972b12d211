package store

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunRunning  RunStatus = "RUNNING"
	RunDone     RunStatus = "DONE"
	RunFailed   RunStatus = "FAILED"
	RunCanceled RunStatus = "CANCELED"
)

// Terminal reports whether the status is absorbing.
func (s RunStatus) Terminal() bool { return s != RunRunning }

// StepKind is the type of one node in a run's plan.
type StepKind string

const (
	StepNavigate      StepKind = "NAVIGATE"
	StepWait          StepKind = "WAIT"
	StepManualConfirm StepKind = "MANUAL_CONFIRM"
)

// WorkflowRun is one execution of one task on one robot.
type WorkflowRun struct {
	ID        int64     `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	TaskID  int64  `db:"task_id" json:"task_id"`
	RobotID string `db:"robot_id" json:"robot_id"`

	Status RunStatus `db:"status" json:"status"`

	CurrentStepIndex int `db:"current_step_index" json:"current_step_index"`
	TotalSteps       int `db:"total_steps" json:"total_steps"`

	CurrentVendorTaskID *string `db:"current_vendor_task_id" json:"current_vendor_task_id,omitempty"`
	LastError           *string `db:"last_error" json:"last_error,omitempty"`
}

// AppendError adds a tagged line to the run's error trail.
func (r *WorkflowRun) AppendError(tag, text string) {
	line := "[" + tag + "] " + text
	if r.LastError == nil || *r.LastError == "" {
		r.LastError = &line
		return
	}
	combined := *r.LastError + "\n" + line
	r.LastError = &combined
}

// WorkflowStep is one node in a run's plan. Steps are dense, 0-indexed,
// and complete strictly in index order.
type WorkflowStep struct {
	ID        int64 `db:"id" json:"id"`
	RunID     int64 `db:"run_id" json:"run_id"`
	StepIndex int   `db:"step_index" json:"step_index"`

	Kind StepKind `db:"kind" json:"kind"`

	// Code is the stable semantic label of the step
	// (e.g. DELIVERY_LOADED, ORDER_DECISION).
	Code string `db:"code" json:"code"`

	// NAVIGATE payload: resolved target.
	AreaID     *string  `db:"area_id" json:"area_id,omitempty"`
	X          *float64 `db:"x" json:"x,omitempty"`
	Y          *float64 `db:"y" json:"y,omitempty"`
	Yaw        *float64 `db:"yaw" json:"yaw,omitempty"`
	StopRadius float64  `db:"stop_radius" json:"stop_radius"`

	// WAIT payload. Zero or nil means wait until externally released.
	WaitSeconds *int `db:"wait_seconds" json:"wait_seconds,omitempty"`

	// CompletedAt doubles as the WAIT deadline while the step is current.
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Decision        *string    `db:"decision" json:"decision,omitempty"`
	DecisionPayload *string    `db:"decision_payload" json:"decision_payload,omitempty"`

	Label *string `db:"label" json:"label,omitempty"`
}
