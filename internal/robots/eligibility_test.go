package robots

import (
	"testing"
	"time"

	"github.com/dohr-michael/fleetd/internal/clock"
)

type busyMap map[string]bool

func (b busyMap) RobotBusy(robotID string) (bool, error) { return b[robotID], nil }

func boolPtr(v bool) *bool { return &v }

func testView(t *testing.T, busy busyMap) (*View, *Cache, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cache := NewCache(clk, 15*time.Second)
	view := NewView(NewRegistry([]string{"R1", "R2"}), cache, busy)
	return view, cache, clk
}

func TestEligibleWhenHealthy(t *testing.T) {
	view, cache, _ := testView(t, busyMap{})
	cache.Put(State{RobotID: "R1", Online: boolPtr(true), Charging: boolPtr(false), EmergencyStop: boolPtr(false)})

	e, err := view.Check("R1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !e.Eligible || e.Reason != "" {
		t.Fatalf("expected eligible, got %+v", e)
	}
}

func TestOfflineIsDecisive(t *testing.T) {
	view, cache, _ := testView(t, busyMap{})
	cache.Put(State{RobotID: "R1", Online: boolPtr(false)})

	e, _ := view.Check("R1")
	if e.Eligible || e.Reason != "robot offline" {
		t.Fatalf("expected offline rejection, got %+v", e)
	}
}

func TestUnknownStateIsPermissive(t *testing.T) {
	view, _, _ := testView(t, busyMap{})

	// No observation at all: every predicate unknown, robot passes.
	e, _ := view.Check("R1")
	if !e.Eligible {
		t.Fatalf("expected permissive on unknown state, got %+v", e)
	}
	if e.Fresh {
		t.Fatal("no observation should not be fresh")
	}
}

func TestStaleObservationTreatedAsUnknown(t *testing.T) {
	view, cache, clk := testView(t, busyMap{})
	cache.Put(State{RobotID: "R1", Online: boolPtr(false)})

	// Within the window the offline report is decisive.
	if e, _ := view.Check("R1"); e.Eligible {
		t.Fatal("fresh offline report should reject")
	}

	// Outside the window it no longer counts against the robot.
	clk.Advance(time.Minute)
	e, _ := view.Check("R1")
	if !e.Eligible {
		t.Fatalf("stale observation should be permissive, got %+v", e)
	}
}

func TestChargingAndEmergencyStop(t *testing.T) {
	view, cache, _ := testView(t, busyMap{})

	cache.Put(State{RobotID: "R1", Online: boolPtr(true), Charging: boolPtr(true)})
	if e, _ := view.Check("R1"); e.Eligible || e.Reason != "robot charging" {
		t.Fatalf("expected charging rejection, got %+v", e)
	}

	cache.Put(State{RobotID: "R2", Online: boolPtr(true), EmergencyStop: boolPtr(true)})
	if e, _ := view.Check("R2"); e.Eligible || e.Reason != "emergency stop active" {
		t.Fatalf("expected emergency stop rejection, got %+v", e)
	}
}

func TestBusyRobot(t *testing.T) {
	view, cache, _ := testView(t, busyMap{"R1": true})
	cache.Put(State{RobotID: "R1", Online: boolPtr(true)})

	e, _ := view.Check("R1")
	if e.Eligible || e.Reason != "robot busy" {
		t.Fatalf("expected busy rejection, got %+v", e)
	}
	if !e.Busy {
		t.Fatal("busy flag not set")
	}
}

func TestUnregisteredRobotIsHardNo(t *testing.T) {
	view, _, _ := testView(t, busyMap{})

	e, _ := view.Check("R9")
	if e.Eligible || e.Reason != "robot not registered" {
		t.Fatalf("expected registration rejection, got %+v", e)
	}
}

func TestRegistryDedupesAndTrims(t *testing.T) {
	r := NewRegistry([]string{" R1 ", "R1", "", "R2"})
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "R1" || ids[1] != "R2" {
		t.Fatalf("unexpected registry: %v", ids)
	}
}

func TestCheckAllOrder(t *testing.T) {
	view, cache, _ := testView(t, busyMap{})
	cache.Put(State{RobotID: "R2", Online: boolPtr(false)})

	all, err := view.CheckAll()
	if err != nil {
		t.Fatalf("check all: %v", err)
	}
	if len(all) != 2 || all[0].RobotID != "R1" || all[1].RobotID != "R2" {
		t.Fatalf("expected registry order, got %+v", all)
	}
	if !all[0].Eligible || all[1].Eligible {
		t.Fatalf("unexpected eligibility: %+v", all)
	}
}
