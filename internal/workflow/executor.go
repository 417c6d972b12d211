package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/fleetd/internal/clock"
	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/vendor"
)

// Outcome is the result of advancing one run by one sub-step.
type Outcome string

const (
	OutcomeProgressed Outcome = "progressed"
	OutcomeWaiting    Outcome = "waiting"
	OutcomeFinished   Outcome = "finished"
	OutcomeFailed     Outcome = "failed"
	OutcomeCanceled   Outcome = "canceled"
)

// Decision errors surfaced to operators.
var (
	ErrRunNotRunning = errors.New("run is not running")
	ErrNotConfirm    = errors.New("current step is not awaiting confirmation")
)

// TickSummary counts outcomes of one TickAll pass.
type TickSummary struct {
	Progressed int `json:"progressed"`
	Waiting    int `json:"waiting"`
	Finished   int `json:"finished"`
	Failed     int `json:"failed"`
	Canceled   int `json:"canceled"`
}

// Changed reports whether the pass moved any run.
func (s TickSummary) Changed() bool {
	return s.Progressed+s.Finished+s.Failed+s.Canceled > 0
}

// Executor advances workflow runs one sub-step per tick. It is the only
// writer of run state; per run it issues at most one vendor call per
// tick so a slow vendor never starves the other runs.
type Executor struct {
	store   *store.Store
	planner *Planner
	api     vendor.API
	clk     clock.Clock
	bus     *events.Bus
	log     *slog.Logger
}

func NewExecutor(st *store.Store, planner *Planner, api vendor.API, clk clock.Clock, bus *events.Bus, log *slog.Logger) *Executor {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		store:   st,
		planner: planner,
		api:     api,
		clk:     clk,
		bus:     bus,
		log:     log.With("component", "workflow"),
	}
}

// StartRun plans a claimed task and persists the run with its steps. If
// planning fails the task is retired with the failure recorded in its
// notes, and no run is persisted.
func (e *Executor) StartRun(task *store.Task, robotID string) (*store.WorkflowRun, error) {
	steps, err := e.planner.Plan(task)
	if err != nil {
		task.Status = store.TaskCanceled
		task.AppendNote("FAILED", err.Error())
		if uerr := e.store.UpdateTask(task); uerr != nil {
			return nil, fmt.Errorf("retire unplannable task: %w", uerr)
		}
		e.publish(events.EventTaskCanceled, events.TaskPayload{
			TaskID: task.ID, Kind: string(task.Kind), Status: string(task.Status),
			Reason: err.Error(),
		})
		return nil, err
	}

	run := &store.WorkflowRun{TaskID: task.ID, RobotID: robotID, Status: store.RunRunning}
	if err := e.store.CreateRunWithSteps(run, steps); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}

	e.publish(events.EventWorkflowStarted, events.WorkflowRunPayload{
		RunID: run.ID, TaskID: run.TaskID, RobotID: run.RobotID,
		StepIndex: 0, StepCode: steps[0].Code,
	})
	return run, nil
}

// AdvanceOne moves a run forward by at most one sub-step.
func (e *Executor) AdvanceOne(ctx context.Context, run *store.WorkflowRun) (Outcome, error) {
	switch run.Status {
	case store.RunDone:
		return OutcomeFinished, nil
	case store.RunFailed:
		return OutcomeFailed, nil
	case store.RunCanceled:
		return OutcomeCanceled, nil
	}

	if run.CurrentStepIndex >= run.TotalSteps {
		if err := e.completeRun(run); err != nil {
			return OutcomeWaiting, err
		}
		return OutcomeFinished, nil
	}

	step, err := e.store.StepAt(run.ID, run.CurrentStepIndex)
	if err != nil {
		return OutcomeWaiting, fmt.Errorf("load step %d of run %d: %w", run.CurrentStepIndex, run.ID, err)
	}

	switch step.Kind {
	case store.StepManualConfirm:
		// Progress happens through Decide; nothing autonomous here.
		return OutcomeWaiting, nil
	case store.StepWait:
		return e.advanceWait(run, step)
	case store.StepNavigate:
		return e.advanceNavigate(ctx, run, step)
	}
	return OutcomeWaiting, fmt.Errorf("unknown step kind %q", step.Kind)
}

// advanceWait stamps the deadline on entry (completed_at doubles as the
// deadline while the step is current) and releases once it passes. A
// step without wait_seconds holds until the run is canceled.
func (e *Executor) advanceWait(run *store.WorkflowRun, step *store.WorkflowStep) (Outcome, error) {
	now := e.clk.Now()
	if step.CompletedAt == nil {
		if step.WaitSeconds == nil || *step.WaitSeconds <= 0 {
			return OutcomeWaiting, nil
		}
		deadline := now.Add(time.Duration(*step.WaitSeconds) * time.Second)
		step.CompletedAt = &deadline
		if err := e.store.UpdateStep(step); err != nil {
			return OutcomeWaiting, err
		}
		return OutcomeWaiting, nil
	}
	if now.Before(*step.CompletedAt) {
		return OutcomeWaiting, nil
	}
	return e.advanceStep(run, step, *step.CompletedAt)
}

func (e *Executor) advanceNavigate(ctx context.Context, run *store.WorkflowRun, step *store.WorkflowStep) (Outcome, error) {
	if run.CurrentVendorTaskID == nil {
		spec := vendor.NavigateSpec{
			RobotID:    run.RobotID,
			AreaID:     step.AreaID,
			X:          step.X,
			Y:          step.Y,
			Yaw:        step.Yaw,
			StopRadius: step.StopRadius,
			Label:      step.Code,
		}
		if step.Label != nil && *step.Label != "" {
			spec.Label = *step.Label
		}
		vendorTaskID, err := e.api.Create(ctx, spec)
		if err != nil {
			return e.failRun(ctx, run, fmt.Sprintf("vendor create: %v", err))
		}
		run.CurrentVendorTaskID = &vendorTaskID
		if err := e.store.UpdateRun(run); err != nil {
			return OutcomeWaiting, err
		}
		return OutcomeWaiting, nil
	}

	state, err := e.api.State(ctx, *run.CurrentVendorTaskID)
	if err != nil {
		// Exhausted retries on a poll is transient from the run's point
		// of view: keep the vendor task and poll again next tick.
		e.log.Warn("vendor state poll failed", "run", run.ID, "error", err)
		return OutcomeWaiting, nil
	}

	switch state.State {
	case vendor.StateRunning:
		return OutcomeWaiting, nil
	case vendor.StateDone:
		run.CurrentVendorTaskID = nil
		return e.advanceStep(run, step, e.clk.Now())
	case vendor.StateFailed:
		if run.CurrentVendorTaskID != nil {
			e.api.Cancel(ctx, *run.CurrentVendorTaskID)
		}
		return e.failRun(ctx, run, "vendor task failed: "+state.Reason)
	}
	return OutcomeWaiting, fmt.Errorf("unknown vendor state %q", state.State)
}

// advanceStep completes the current step and moves the index forward,
// finishing the run when the plan is exhausted.
func (e *Executor) advanceStep(run *store.WorkflowRun, step *store.WorkflowStep, completedAt time.Time) (Outcome, error) {
	if step.CompletedAt == nil {
		step.CompletedAt = &completedAt
	}
	if err := e.store.UpdateStep(step); err != nil {
		return OutcomeWaiting, err
	}
	run.CurrentStepIndex++
	if err := e.store.UpdateRun(run); err != nil {
		return OutcomeWaiting, err
	}

	e.publish(events.EventWorkflowStepAdvanced, events.WorkflowRunPayload{
		RunID: run.ID, TaskID: run.TaskID, RobotID: run.RobotID,
		StepIndex: run.CurrentStepIndex, StepCode: step.Code,
	})

	if run.CurrentStepIndex >= run.TotalSteps {
		if err := e.completeRun(run); err != nil {
			return OutcomeProgressed, err
		}
		return OutcomeFinished, nil
	}
	return OutcomeProgressed, nil
}

func (e *Executor) completeRun(run *store.WorkflowRun) error {
	run.Status = store.RunDone
	if err := e.store.UpdateRun(run); err != nil {
		return err
	}

	task, err := e.store.GetTask(run.TaskID)
	if err == nil && !task.Status.Terminal() {
		task.Status = store.TaskDone
		if uerr := e.store.UpdateTask(task); uerr != nil {
			err = uerr
		} else {
			e.publish(events.EventTaskUpdated, events.TaskPayload{
				TaskID: task.ID, Kind: string(task.Kind), Status: string(task.Status),
				RobotID: run.RobotID,
			})
		}
	}

	e.publish(events.EventWorkflowFinished, events.WorkflowRunPayload{
		RunID: run.ID, TaskID: run.TaskID, RobotID: run.RobotID,
	})
	return err
}

// failRun retires the run with last_error set. The task stays ASSIGNED:
// an operator decides whether to unassign or cancel.
func (e *Executor) failRun(ctx context.Context, run *store.WorkflowRun, reason string) (Outcome, error) {
	run.Status = store.RunFailed
	run.AppendError("FAILED", reason)
	run.CurrentVendorTaskID = nil
	if err := e.store.UpdateRun(run); err != nil {
		return OutcomeFailed, err
	}
	e.publish(events.EventWorkflowFailed, events.WorkflowRunPayload{
		RunID: run.ID, TaskID: run.TaskID, RobotID: run.RobotID,
		StepIndex: run.CurrentStepIndex, Error: reason,
	})
	return OutcomeFailed, nil
}

// TickAll advances every RUNNING run by at most one sub-step, in stable
// id order. A failure in one run never stops the pass.
func (e *Executor) TickAll(ctx context.Context) (TickSummary, error) {
	runs, err := e.store.RunningRuns()
	if err != nil {
		return TickSummary{}, err
	}

	var summary TickSummary
	for i := range runs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome, err := e.AdvanceOne(ctx, &runs[i])
		if err != nil {
			e.log.Error("advance failed", "run", runs[i].ID, "error", err)
		}
		switch outcome {
		case OutcomeProgressed:
			summary.Progressed++
		case OutcomeWaiting:
			summary.Waiting++
		case OutcomeFinished:
			summary.Finished++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeCanceled:
			summary.Canceled++
		}
	}
	return summary, nil
}

// Decide resolves the current MANUAL_CONFIRM step of a run and advances
// it. The auto-confirm driver and the operator API both land here.
func (e *Executor) Decide(runID int64, decision string, payload *string) (*store.WorkflowRun, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != store.RunRunning {
		return nil, fmt.Errorf("%w: run %d is %s", ErrRunNotRunning, runID, run.Status)
	}
	if run.CurrentStepIndex >= run.TotalSteps {
		return nil, fmt.Errorf("%w: run %d has no current step", ErrNotConfirm, runID)
	}
	step, err := e.store.StepAt(run.ID, run.CurrentStepIndex)
	if err != nil {
		return nil, err
	}
	if step.Kind != store.StepManualConfirm {
		return nil, fmt.Errorf("%w: step %d is %s", ErrNotConfirm, step.StepIndex, step.Kind)
	}
	if step.CompletedAt != nil {
		return nil, fmt.Errorf("%w: step %d already decided", ErrNotConfirm, step.StepIndex)
	}

	step.Decision = &decision
	step.DecisionPayload = payload
	if _, err := e.advanceStep(run, step, e.clk.Now()); err != nil {
		return nil, err
	}
	return run, nil
}

// CancelRun retires a run, best-effort cancels any outstanding vendor
// task, and cancels the owning task unless it is already terminal.
func (e *Executor) CancelRun(ctx context.Context, runID int64, reason string) (*store.WorkflowRun, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	if run.CurrentVendorTaskID != nil {
		e.api.Cancel(ctx, *run.CurrentVendorTaskID)
	}

	run.Status = store.RunCanceled
	if reason != "" {
		run.AppendError("CANCELED", reason)
	}
	run.CurrentVendorTaskID = nil
	if err := e.store.UpdateRun(run); err != nil {
		return nil, err
	}

	task, err := e.store.GetTask(run.TaskID)
	if err == nil && !task.Status.Terminal() {
		task.Status = store.TaskCanceled
		task.AppendNote("CANCELED", reason)
		if uerr := e.store.UpdateTask(task); uerr == nil {
			e.publish(events.EventTaskCanceled, events.TaskPayload{
				TaskID: task.ID, Kind: string(task.Kind), Status: string(task.Status),
				Reason: reason,
			})
		}
	}

	e.publish(events.EventWorkflowCanceled, events.WorkflowRunPayload{
		RunID: run.ID, TaskID: run.TaskID, RobotID: run.RobotID, Reason: reason,
	})
	return run, nil
}

func (e *Executor) publish(t events.EventType, data any) {
	if e.bus != nil {
		e.bus.Publish(events.New(t, events.SourceWorkflow, data))
	}
}
