// Package assign binds ready tasks to eligible robots. The claim is a
// single conditional update against the store; it is the only
// concurrency barrier between competing ticks.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/queue"
	"github.com/dohr-michael/fleetd/internal/robots"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/workflow"
)

// Result reports one assignment attempt.
type Result struct {
	Assigned bool   `json:"assigned"`
	TaskID   int64  `json:"task_id,omitempty"`
	RobotID  string `json:"robot_id,omitempty"`
	RunID    int64  `json:"run_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ErrTaskBusy is returned by Unassign while the task still has a
// running workflow.
var ErrTaskBusy = errors.New("task has a running workflow")

// Engine picks the top ready task and the first eligible robot, claims
// atomically, and seeds the workflow run.
type Engine struct {
	store    *store.Store
	queue    *queue.Manager
	view     *robots.View
	executor *workflow.Executor
	bus      *events.Bus
	log      *slog.Logger
}

func NewEngine(st *store.Store, q *queue.Manager, view *robots.View, ex *workflow.Executor, bus *events.Bus, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    st,
		queue:    q,
		view:     view,
		executor: ex,
		bus:      bus,
		log:      log.With("component", "assign"),
	}
}

// AssignNext assigns the highest-priority ready task to the first
// eligible robot. A non-empty preferred robot is tried alone when it is
// registered; otherwise the registry is scanned in configuration order.
func (e *Engine) AssignNext(preferred string) (Result, error) {
	registry := e.view.Registry()
	if registry.Empty() {
		return e.fail(0, "no robots"), nil
	}

	q, err := e.queue.ReadyQueue()
	if err != nil {
		return Result{}, err
	}
	if len(q) == 0 {
		return Result{Assigned: false, Reason: "no ready tasks"}, nil
	}
	top := q[0]

	candidates := registry.IDs()
	if preferred != "" && registry.Has(preferred) {
		candidates = []string{preferred}
	}

	var skipped []string
	robotID := ""
	for _, id := range candidates {
		elig, err := e.view.Check(id)
		if err != nil {
			return Result{}, err
		}
		if !elig.Eligible {
			skipped = append(skipped, id+": "+elig.Reason)
			continue
		}
		robotID = id
		break
	}
	if robotID == "" {
		return e.fail(top.TaskID, "no eligible robot ("+strings.Join(skipped, "; ")+")"), nil
	}

	claimed, err := e.store.ClaimTask(top.TaskID, robotID)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return e.fail(top.TaskID, "raced"), nil
	}

	task, err := e.store.GetTask(top.TaskID)
	if err != nil {
		return Result{}, err
	}

	run, err := e.executor.StartRun(task, robotID)
	if err != nil {
		// StartRun already retired the task; report the policy miss.
		return e.fail(top.TaskID, "plan failed: "+err.Error()), nil
	}

	e.log.Info("assigned", "task", task.ID, "robot", robotID, "run", run.ID)
	if e.bus != nil {
		e.bus.Publish(events.New(events.EventAssignmentMade, events.SourceAssignment,
			events.AssignmentMadePayload{TaskID: task.ID, RobotID: robotID, RunID: run.ID}))
	}
	return Result{Assigned: true, TaskID: task.ID, RobotID: robotID, RunID: run.ID}, nil
}

func (e *Engine) fail(taskID int64, reason string) Result {
	if e.bus != nil {
		e.bus.Publish(events.New(events.EventAssignmentFailed, events.SourceAssignment,
			events.AssignmentFailedPayload{Reason: reason, TaskID: taskID}))
	}
	return Result{Assigned: false, TaskID: taskID, Reason: reason}
}

// Unassign returns an ASSIGNED task to READY and clears its robot. A
// task with a running workflow must have the run canceled first.
func (e *Engine) Unassign(taskID int64, reason string) (*store.Task, error) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != store.TaskAssigned {
		return nil, fmt.Errorf("task %d is %s, not ASSIGNED", taskID, task.Status)
	}

	if _, err := e.store.ActiveRunForTask(taskID); err == nil {
		return nil, fmt.Errorf("%w: task %d", ErrTaskBusy, taskID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	task.Status = store.TaskReady
	task.AssignedRobotID = nil
	task.AppendNote("UNASSIGN", reason)
	if err := e.store.UpdateTask(task); err != nil {
		return nil, err
	}

	if e.bus != nil {
		e.bus.Publish(events.New(events.EventAssignmentUnassigned, events.SourceAssignment,
			events.AssignmentUnassignedPayload{TaskID: taskID, Reason: reason}))
	}
	return task, nil
}

// CancelTask retires a non-terminal task and its running workflow, if
// any.
func (e *Engine) CancelTask(ctx context.Context, taskID int64, reason string) (*store.Task, error) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return task, nil
	}

	if run, err := e.store.ActiveRunForTask(taskID); err == nil {
		// CancelRun cancels the task as well.
		if _, err := e.executor.CancelRun(ctx, run.ID, reason); err != nil {
			return nil, err
		}
		return e.store.GetTask(taskID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	task.Status = store.TaskCanceled
	task.AppendNote("CANCELED", reason)
	if err := e.store.UpdateTask(task); err != nil {
		return nil, err
	}

	if e.bus != nil {
		e.bus.Publish(events.New(events.EventTaskCanceled, events.SourceAssignment,
			events.TaskPayload{TaskID: taskID, Kind: string(task.Kind),
				Status: string(task.Status), Reason: reason}))
	}
	return task, nil
}
