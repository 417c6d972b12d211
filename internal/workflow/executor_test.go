package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dohr-michael/fleetd/internal/clock"
	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/vendor"
)

// fakeVendor scripts navigation task lifecycles.
type fakeVendor struct {
	createErr   error
	createCalls int
	stateCalls  int
	cancelCalls int
	states      []vendor.TaskState
	nextID      int
}

func (f *fakeVendor) Create(ctx context.Context, spec vendor.NavigateSpec) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	return "vt-" + string(rune('0'+f.nextID)), nil
}

func (f *fakeVendor) State(ctx context.Context, id string) (vendor.TaskState, error) {
	f.stateCalls++
	if len(f.states) == 0 {
		return vendor.TaskState{State: vendor.StateRunning}, nil
	}
	st := f.states[0]
	f.states = f.states[1:]
	return st, nil
}

func (f *fakeVendor) Cancel(ctx context.Context, id string) (vendor.CancelResult, error) {
	f.cancelCalls++
	return vendor.CancelResult{OK: true}, nil
}

type fixture struct {
	store    *store.Store
	clk      *clock.Fake
	vendor   *fakeVendor
	executor *Executor
	bus      *events.Bus
	eventCh  <-chan events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st, err := store.Open(":memory:", clk)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	ch, detach := bus.AttachChan(64)
	t.Cleanup(detach)

	fv := &fakeVendor{}
	ex := NewExecutor(st, NewPlanner(&fakeResolver{}), fv, clk, bus, nil)
	return &fixture{store: st, clk: clk, vendor: fv, executor: ex, bus: bus, eventCh: ch}
}

func (f *fixture) startTask(t *testing.T, kind store.TaskKind) (*store.Task, *store.WorkflowRun) {
	t.Helper()
	task := &store.Task{Kind: kind, Title: string(kind), TargetKind: "POI", TargetRef: "TABLE/5"}
	if err := f.store.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if ok, err := f.store.ClaimTask(task.ID, "R1"); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	task, err := f.store.GetTask(task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	run, err := f.executor.StartRun(task, "R1")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	return task, run
}

// advance reloads the run and advances it once.
func (f *fixture) advance(t *testing.T, runID int64) Outcome {
	t.Helper()
	run, err := f.store.GetRun(runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	outcome, err := f.executor.AdvanceOne(context.Background(), run)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	return outcome
}

// drainEvents collects pending bus events of the workflow family.
func (f *fixture) drainEvents() []events.EventType {
	var out []events.EventType
	for {
		select {
		case e := <-f.eventCh:
			out = append(out, e.Type)
		case <-time.After(200 * time.Millisecond):
			return out
		}
	}
}

func TestDeliveryHappyPath(t *testing.T) {
	f := newFixture(t)
	f.vendor.states = []vendor.TaskState{{State: vendor.StateDone}}

	task, run := f.startTask(t, store.KindDelivery)

	// Step 0: DELIVERY_LOADED confirmation.
	if got := f.advance(t, run.ID); got != OutcomeWaiting {
		t.Fatalf("confirm step should wait, got %s", got)
	}
	if _, err := f.executor.Decide(run.ID, "CONFIRM", nil); err != nil {
		t.Fatalf("decide: %v", err)
	}

	// Step 1: NAVIGATE — first tick creates the vendor task.
	if got := f.advance(t, run.ID); got != OutcomeWaiting {
		t.Fatalf("navigate entry should wait, got %s", got)
	}
	if f.vendor.createCalls != 1 {
		t.Fatalf("expected 1 create, got %d", f.vendor.createCalls)
	}
	// Second tick polls DONE and advances.
	if got := f.advance(t, run.ID); got != OutcomeProgressed {
		t.Fatalf("navigate poll should progress, got %s", got)
	}

	// Steps 2 and 3: remaining confirmations.
	if _, err := f.executor.Decide(run.ID, "CONFIRM", nil); err != nil {
		t.Fatalf("decide arrived: %v", err)
	}
	if _, err := f.executor.Decide(run.ID, "CONFIRM", nil); err != nil {
		t.Fatalf("decide handed off: %v", err)
	}

	got, err := f.store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != store.RunDone {
		t.Fatalf("expected run DONE, got %s", got.Status)
	}
	doneTask, _ := f.store.GetTask(task.ID)
	if doneTask.Status != store.TaskDone {
		t.Fatalf("expected task DONE, got %s", doneTask.Status)
	}

	// Step completion times never move backward.
	steps, _ := f.store.Steps(run.ID)
	for i := 0; i+1 < len(steps); i++ {
		if steps[i].CompletedAt == nil || steps[i+1].CompletedAt == nil {
			t.Fatalf("step %d missing completion", i)
		}
		if steps[i].CompletedAt.After(*steps[i+1].CompletedAt) {
			t.Fatalf("completion order violated at step %d", i)
		}
	}
}

func TestVendorFailedRetiresRun(t *testing.T) {
	f := newFixture(t)
	f.vendor.states = []vendor.TaskState{
		{State: vendor.StateRunning},
		{State: vendor.StateFailed, Reason: "obstacle"},
	}

	task, run := f.startTask(t, store.KindNavigate)

	f.advance(t, run.ID) // create
	if got := f.advance(t, run.ID); got != OutcomeWaiting {
		t.Fatalf("running poll should wait, got %s", got)
	}
	if got := f.advance(t, run.ID); got != OutcomeFailed {
		t.Fatalf("failed poll should fail the run, got %s", got)
	}

	got, _ := f.store.GetRun(run.ID)
	if got.Status != store.RunFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.LastError == nil || *got.LastError == "" {
		t.Fatal("last_error must be recorded")
	}
	if f.vendor.cancelCalls != 1 {
		t.Fatalf("expected best-effort cancel, got %d", f.vendor.cancelCalls)
	}

	// The task stays ASSIGNED for an operator to triage.
	failedTask, _ := f.store.GetTask(task.ID)
	if failedTask.Status != store.TaskAssigned {
		t.Fatalf("expected task ASSIGNED after run failure, got %s", failedTask.Status)
	}

	// A failed run is terminal: no further vendor traffic.
	calls := f.vendor.stateCalls
	if _, err := f.executor.TickAll(context.Background()); err != nil {
		t.Fatalf("tick all: %v", err)
	}
	if f.vendor.stateCalls != calls || f.vendor.createCalls != 1 {
		t.Fatal("terminal run still calling the vendor")
	}
}

func TestSafeModeFailsNavigateEntry(t *testing.T) {
	f := newFixture(t)
	f.vendor.createErr = vendor.ErrSafeMode

	task, run := f.startTask(t, store.KindNavigate)

	if got := f.advance(t, run.ID); got != OutcomeFailed {
		t.Fatalf("safe-mode create should fail the run, got %s", got)
	}

	got, _ := f.store.GetRun(run.ID)
	if got.Status != store.RunFailed || got.LastError == nil {
		t.Fatalf("unexpected run: %+v", got)
	}
	assignedTask, _ := f.store.GetTask(task.ID)
	if assignedTask.Status != store.TaskAssigned {
		t.Fatalf("expected task ASSIGNED, got %s", assignedTask.Status)
	}

	types := f.drainEvents()
	found := false
	for _, typ := range types {
		if typ == events.EventWorkflowFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected workflow.failed event, got %v", types)
	}
}

func TestCancelPreemptsNavigate(t *testing.T) {
	f := newFixture(t)
	// Vendor keeps reporting RUNNING.

	task, run := f.startTask(t, store.KindNavigate)
	f.advance(t, run.ID) // create
	if got := f.advance(t, run.ID); got != OutcomeWaiting {
		t.Fatalf("expected waiting, got %s", got)
	}

	if _, err := f.executor.CancelRun(context.Background(), run.ID, "operator stop"); err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	if f.vendor.cancelCalls != 1 {
		t.Fatalf("expected vendor cancel, got %d", f.vendor.cancelCalls)
	}

	got, _ := f.store.GetRun(run.ID)
	if got.Status != store.RunCanceled {
		t.Fatalf("expected CANCELED, got %s", got.Status)
	}
	canceledTask, _ := f.store.GetTask(task.ID)
	if canceledTask.Status != store.TaskCanceled {
		t.Fatalf("expected task CANCELED, got %s", canceledTask.Status)
	}
	if canceledTask.Notes == nil {
		t.Fatal("cancellation reason must land in the notes trail")
	}

	// Canceling again is a no-op, and ticks leave the run alone.
	if _, err := f.executor.CancelRun(context.Background(), run.ID, "again"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	summary, err := f.executor.TickAll(context.Background())
	if err != nil {
		t.Fatalf("tick all: %v", err)
	}
	if summary != (TickSummary{}) {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	if f.vendor.cancelCalls != 1 {
		t.Fatal("repeat cancel reached the vendor")
	}
}

func TestWaitStepDeadline(t *testing.T) {
	f := newFixture(t)

	task := &store.Task{Kind: store.KindNavigate, Title: "wait", TargetKind: "POI", TargetRef: "TABLE/5"}
	if err := f.store.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}
	secs := 60
	run := &store.WorkflowRun{TaskID: task.ID, RobotID: "R1"}
	steps := []store.WorkflowStep{{Kind: store.StepWait, Code: "HOLD", WaitSeconds: &secs}}
	if err := f.store.CreateRunWithSteps(run, steps); err != nil {
		t.Fatalf("create run: %v", err)
	}

	// First advance stamps the deadline.
	if got := f.advance(t, run.ID); got != OutcomeWaiting {
		t.Fatalf("expected waiting, got %s", got)
	}
	step, _ := f.store.StepAt(run.ID, 0)
	if step.CompletedAt == nil {
		t.Fatal("deadline not stamped")
	}

	// Before the deadline, still waiting.
	f.clk.Advance(30 * time.Second)
	if got := f.advance(t, run.ID); got != OutcomeWaiting {
		t.Fatalf("expected waiting before deadline, got %s", got)
	}

	// Past the deadline, the step releases and the run finishes.
	f.clk.Advance(31 * time.Second)
	if got := f.advance(t, run.ID); got != OutcomeFinished {
		t.Fatalf("expected finished, got %s", got)
	}
}

func TestUnboundedWaitHolds(t *testing.T) {
	f := newFixture(t)

	task := &store.Task{Kind: store.KindCharging, Title: "park", TargetKind: "POI", TargetRef: ""}
	if err := f.store.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}
	run := &store.WorkflowRun{TaskID: task.ID, RobotID: "R1"}
	if err := f.store.CreateRunWithSteps(run, []store.WorkflowStep{{Kind: store.StepWait, Code: CodeChargingPark}}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	for i := 0; i < 3; i++ {
		f.clk.Advance(time.Hour)
		if got := f.advance(t, run.ID); got != OutcomeWaiting {
			t.Fatalf("unbounded wait released at pass %d: %s", i, got)
		}
	}
}

func TestStartRunPlanFailure(t *testing.T) {
	f := newFixture(t)
	f.executor.planner = NewPlanner(&fakeResolver{bad: map[string]bool{"TABLE/404": true}})

	task := &store.Task{Kind: store.KindDelivery, Title: "bad target", TargetKind: "POI", TargetRef: "TABLE/404"}
	if err := f.store.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := f.store.ClaimTask(task.ID, "R1"); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	task, _ = f.store.GetTask(task.ID)

	if _, err := f.executor.StartRun(task, "R1"); err == nil {
		t.Fatal("expected plan failure")
	}

	// No run persisted; task retired with the failure in its notes.
	if _, err := f.store.ActiveRunForTask(task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no run, got %v", err)
	}
	got, _ := f.store.GetTask(task.ID)
	if got.Status != store.TaskCanceled || got.Notes == nil {
		t.Fatalf("task not retired: %+v", got)
	}
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t)
	_, run := f.startTask(t, store.KindNavigate)

	// Current step is NAVIGATE, not a confirmation.
	if _, err := f.executor.Decide(run.ID, "CONFIRM", nil); !errors.Is(err, ErrNotConfirm) {
		t.Fatalf("expected ErrNotConfirm, got %v", err)
	}

	if _, err := f.executor.CancelRun(context.Background(), run.ID, "stop"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.executor.Decide(run.ID, "CONFIRM", nil); !errors.Is(err, ErrRunNotRunning) {
		t.Fatalf("expected ErrRunNotRunning, got %v", err)
	}
}

func TestDecideRecordsPayload(t *testing.T) {
	f := newFixture(t)
	_, run := f.startTask(t, store.KindDelivery)

	payload := `{"items":3}`
	if _, err := f.executor.Decide(run.ID, "CONFIRM", &payload); err != nil {
		t.Fatalf("decide: %v", err)
	}

	step, _ := f.store.StepAt(run.ID, 0)
	if step.Decision == nil || *step.Decision != "CONFIRM" {
		t.Fatalf("decision not recorded: %+v", step)
	}
	if step.DecisionPayload == nil || *step.DecisionPayload != payload {
		t.Fatalf("payload not recorded: %+v", step)
	}
}

func TestTransientPollKeepsWaiting(t *testing.T) {
	f := newFixture(t)
	_, run := f.startTask(t, store.KindNavigate)
	f.advance(t, run.ID) // create

	// Swap in a vendor whose state poll errors.
	f.executor.api = failingStateVendor{inner: f.vendor}
	if got := f.advance(t, run.ID); got != OutcomeWaiting {
		t.Fatalf("poll error should surface as waiting, got %s", got)
	}

	got, _ := f.store.GetRun(run.ID)
	if got.Status != store.RunRunning || got.CurrentVendorTaskID == nil {
		t.Fatalf("run must keep its vendor task across poll errors: %+v", got)
	}
}

type failingStateVendor struct {
	inner vendor.API
}

func (f failingStateVendor) Create(ctx context.Context, spec vendor.NavigateSpec) (string, error) {
	return f.inner.Create(ctx, spec)
}

func (f failingStateVendor) State(ctx context.Context, id string) (vendor.TaskState, error) {
	return vendor.TaskState{}, errors.New("gateway timeout")
}

func (f failingStateVendor) Cancel(ctx context.Context, id string) (vendor.CancelResult, error) {
	return f.inner.Cancel(ctx, id)
}
