package events

// Typed payloads for every event in the taxonomy. Keeping these as structs
// (rather than loose maps) pins the wire shape observers depend on.

type TaskPayload struct {
	TaskID  int64  `json:"task_id"`
	Kind    string `json:"kind,omitempty"`
	Status  string `json:"status,omitempty"`
	Title   string `json:"title,omitempty"`
	RobotID string `json:"robot_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type QueueTickedPayload struct {
	Promoted int `json:"promoted"`
}

type QueueUpdatedPayload struct {
	Reason string `json:"reason"`
}

type AssignmentMadePayload struct {
	TaskID  int64  `json:"task_id"`
	RobotID string `json:"robot_id"`
	RunID   int64  `json:"run_id"`
}

type AssignmentFailedPayload struct {
	Reason string `json:"reason"`
	TaskID int64  `json:"task_id,omitempty"`
}

type AssignmentUnassignedPayload struct {
	TaskID int64  `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

type WorkflowRunPayload struct {
	RunID     int64  `json:"run_id"`
	TaskID    int64  `json:"task_id"`
	RobotID   string `json:"robot_id"`
	StepIndex int    `json:"step_index,omitempty"`
	StepCode  string `json:"step_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type POICacheUpdatedPayload struct {
	RobotID string `json:"robot_id"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Deleted int    `json:"deleted"`
	Total   int    `json:"total"`
}

type POICacheErrorPayload struct {
	RobotID string `json:"robot_id"`
	Error   string `json:"error"`
}

type SystemUpdatedPayload struct {
	Reason string `json:"reason"`
}

type SystemResetPayload struct {
	Deleted map[string]int64 `json:"deleted"`
}

type OrchestratorTickedPayload struct {
	Promoted   int `json:"promoted"`
	Assigned   int `json:"assigned"`
	Progressed int `json:"progressed_runs"`
	Finished   int `json:"finished_runs"`
	Failed     int `json:"failed_runs"`
	Canceled   int `json:"canceled_runs"`
}
