package assign

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/fleetd/internal/clock"
	"github.com/dohr-michael/fleetd/internal/poi"
	"github.com/dohr-michael/fleetd/internal/queue"
	"github.com/dohr-michael/fleetd/internal/robots"
	"github.com/dohr-michael/fleetd/internal/store"
	"github.com/dohr-michael/fleetd/internal/vendor"
	"github.com/dohr-michael/fleetd/internal/workflow"
)

type staticResolver struct{}

func (staticResolver) Resolve(targetKind, targetRef string) (*poi.Target, error) {
	area := "area-1"
	return &poi.Target{POIID: "poi-1", AreaID: &area}, nil
}

type idleVendor struct{}

func (idleVendor) Create(ctx context.Context, spec vendor.NavigateSpec) (string, error) {
	return "vt-1", nil
}

func (idleVendor) State(ctx context.Context, id string) (vendor.TaskState, error) {
	return vendor.TaskState{State: vendor.StateRunning}, nil
}

func (idleVendor) Cancel(ctx context.Context, id string) (vendor.CancelResult, error) {
	return vendor.CancelResult{OK: true}, nil
}

type rig struct {
	store  *store.Store
	clk    *clock.Fake
	cache  *robots.Cache
	engine *Engine
}

func newRig(t *testing.T, robotIDs []string) *rig {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st, err := store.Open(":memory:", clk)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := robots.NewRegistry(robotIDs)
	cache := robots.NewCache(clk, 15*time.Second)
	view := robots.NewView(registry, cache, st)

	q := queue.NewManager(st, clk, nil)
	ex := workflow.NewExecutor(st, workflow.NewPlanner(staticResolver{}), idleVendor{}, clk, nil, nil)
	engine := NewEngine(st, q, view, ex, nil, nil)

	return &rig{store: st, clk: clk, cache: cache, engine: engine}
}

func (r *rig) online(robotID string) {
	on := true
	off := false
	r.cache.Put(robots.State{RobotID: robotID, Online: &on, Charging: &off, EmergencyStop: &off})
}

func (r *rig) readyTask(t *testing.T, kind store.TaskKind, title string) *store.Task {
	t.Helper()
	task := &store.Task{Kind: kind, Title: title, TargetKind: "POI", TargetRef: "TABLE/5"}
	if err := r.store.CreateTask(task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestAssignHappyPath(t *testing.T) {
	r := newRig(t, []string{"R1"})
	r.online("R1")
	task := r.readyTask(t, store.KindDelivery, "deliver")

	res, err := r.engine.AssignNext("")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !res.Assigned || res.TaskID != task.ID || res.RobotID != "R1" || res.RunID == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, _ := r.store.GetTask(task.ID)
	if got.Status != store.TaskAssigned || got.AssignedRobotID == nil || *got.AssignedRobotID != "R1" {
		t.Fatalf("task not claimed: %+v", got)
	}
	run, err := r.store.GetRun(res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunRunning || run.CurrentStepIndex != 0 || run.TotalSteps != 4 {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestAssignPicksHighestPriority(t *testing.T) {
	r := newRig(t, []string{"R1"})
	r.online("R1")
	r.readyTask(t, store.KindCleanup, "low")
	high := r.readyTask(t, store.KindDelivery, "high")

	res, err := r.engine.AssignNext("")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !res.Assigned || res.TaskID != high.ID {
		t.Fatalf("expected the delivery task, got %+v", res)
	}
}

func TestAssignNoRobots(t *testing.T) {
	r := newRig(t, nil)
	r.readyTask(t, store.KindNavigate, "nav")

	res, err := r.engine.AssignNext("")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Assigned || res.Reason != "no robots" {
		t.Fatalf("expected no robots, got %+v", res)
	}
}

func TestAssignNoReadyTasks(t *testing.T) {
	r := newRig(t, []string{"R1"})
	r.online("R1")

	res, err := r.engine.AssignNext("")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Assigned || res.Reason != "no ready tasks" {
		t.Fatalf("expected no ready tasks, got %+v", res)
	}
}

func TestAssignNoEligibleRobot(t *testing.T) {
	r := newRig(t, []string{"R1"})
	off := false
	r.cache.Put(robots.State{RobotID: "R1", Online: &off})
	r.readyTask(t, store.KindNavigate, "nav")

	res, err := r.engine.AssignNext("")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Assigned || !strings.Contains(res.Reason, "robot offline") {
		t.Fatalf("expected offline reason, got %+v", res)
	}
}

func TestAssignPreferredRobot(t *testing.T) {
	r := newRig(t, []string{"R1", "R2"})
	r.online("R1")
	r.online("R2")
	r.readyTask(t, store.KindNavigate, "nav")

	res, err := r.engine.AssignNext("R2")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !res.Assigned || res.RobotID != "R2" {
		t.Fatalf("expected R2, got %+v", res)
	}
}

func TestAssignSkipsBusyRobot(t *testing.T) {
	r := newRig(t, []string{"R1", "R2"})
	r.online("R1")
	r.online("R2")

	first := r.readyTask(t, store.KindDelivery, "first")
	second := r.readyTask(t, store.KindDelivery, "second")

	res1, err := r.engine.AssignNext("")
	if err != nil || !res1.Assigned || res1.RobotID != "R1" {
		t.Fatalf("first assign: %+v %v", res1, err)
	}
	res2, err := r.engine.AssignNext("")
	if err != nil || !res2.Assigned || res2.RobotID != "R2" {
		t.Fatalf("second assign should skip busy R1: %+v %v", res2, err)
	}
	if res1.TaskID != first.ID || res2.TaskID != second.ID {
		t.Fatalf("tasks out of order: %+v %+v", res1, res2)
	}

	// Both robots busy now.
	r.readyTask(t, store.KindDelivery, "third")
	res3, err := r.engine.AssignNext("")
	if err != nil {
		t.Fatalf("third assign: %v", err)
	}
	if res3.Assigned || !strings.Contains(res3.Reason, "robot busy") {
		t.Fatalf("expected busy rejection, got %+v", res3)
	}
}

func TestConcurrentAssignExclusive(t *testing.T) {
	r := newRig(t, []string{"R1", "R2"})
	r.online("R1")
	r.online("R2")
	r.readyTask(t, store.KindOrdering, "contested")

	var wg sync.WaitGroup
	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.engine.AssignNext("")
			if err != nil {
				t.Errorf("assign: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	assigned := 0
	for res := range results {
		if res.Assigned {
			assigned++
		}
	}
	if assigned != 1 {
		t.Fatalf("expected exactly one winner, got %d", assigned)
	}

	runs, err := r.store.ListRuns("", 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
}

func TestUnassign(t *testing.T) {
	r := newRig(t, []string{"R1"})
	task := r.readyTask(t, store.KindBilling, "bill")
	if ok, err := r.store.ClaimTask(task.ID, "R1"); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}

	got, err := r.engine.Unassign(task.ID, "robot stuck")
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if got.Status != store.TaskReady || got.AssignedRobotID != nil {
		t.Fatalf("task not released: %+v", got)
	}
	if got.Notes == nil || !strings.Contains(*got.Notes, "[UNASSIGN] robot stuck") {
		t.Fatalf("audit note missing: %+v", got.Notes)
	}

	// Only ASSIGNED tasks can be unassigned.
	if _, err := r.engine.Unassign(task.ID, "again"); err == nil {
		t.Fatal("expected error for READY task")
	}
}

func TestUnassignRejectsRunningWorkflow(t *testing.T) {
	r := newRig(t, []string{"R1"})
	r.online("R1")
	r.readyTask(t, store.KindDelivery, "deliver")

	res, err := r.engine.AssignNext("")
	if err != nil || !res.Assigned {
		t.Fatalf("assign: %+v %v", res, err)
	}

	if _, err := r.engine.Unassign(res.TaskID, "nope"); !errors.Is(err, ErrTaskBusy) {
		t.Fatalf("expected ErrTaskBusy, got %v", err)
	}
}

func TestCancelTaskCancelsRun(t *testing.T) {
	r := newRig(t, []string{"R1"})
	r.online("R1")
	r.readyTask(t, store.KindDelivery, "deliver")

	res, err := r.engine.AssignNext("")
	if err != nil || !res.Assigned {
		t.Fatalf("assign: %+v %v", res, err)
	}

	task, err := r.engine.CancelTask(context.Background(), res.TaskID, "closing time")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if task.Status != store.TaskCanceled {
		t.Fatalf("expected CANCELED, got %s", task.Status)
	}
	run, _ := r.store.GetRun(res.RunID)
	if run.Status != store.RunCanceled {
		t.Fatalf("run not canceled: %+v", run)
	}

	// Terminal tasks cancel to a no-op.
	again, err := r.engine.CancelTask(context.Background(), res.TaskID, "again")
	if err != nil || again.Status != store.TaskCanceled {
		t.Fatalf("repeat cancel: %+v %v", again, err)
	}
}

func TestCancelTaskWithoutRun(t *testing.T) {
	r := newRig(t, []string{"R1"})
	task := r.readyTask(t, store.KindNavigate, "nav")

	got, err := r.engine.CancelTask(context.Background(), task.ID, "not needed")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != store.TaskCanceled {
		t.Fatalf("expected CANCELED, got %s", got.Status)
	}
	if got.Notes == nil || !strings.Contains(*got.Notes, "[CANCELED] not needed") {
		t.Fatalf("audit note missing: %+v", got.Notes)
	}
}
