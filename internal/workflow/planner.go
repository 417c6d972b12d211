// Package workflow plans and executes per-task step plans: a fixed
// template per task kind, advanced one sub-step per orchestration tick.
package workflow

import (
	"fmt"

	"github.com/dohr-michael/fleetd/internal/poi"
	"github.com/dohr-michael/fleetd/internal/store"
)

// Resolver turns a (target_kind, target_ref) pair into a concrete
// navigation target.
type Resolver interface {
	Resolve(targetKind, targetRef string) (*poi.Target, error)
}

// Step codes. Confirmation codes are the contract the auto-confirm
// driver keys on; navigation codes are informational.
const (
	CodeNavigateTarget  = "NAVIGATE_TO_TARGET"
	CodeNavigateWashing = "NAVIGATE_TO_WASHING"
	CodeNavigateDock    = "NAVIGATE_TO_DOCK"

	CodeDeliveryLoaded    = "DELIVERY_LOADED"
	CodeDeliveryArrived   = "DELIVERY_ARRIVED"
	CodeDeliveryHandedOff = "DELIVERY_HANDED_OFF"
	CodeCleanupHasDishes  = "CLEANUP_HAS_DISHES"
	CodeCleanupMoreDishes = "CLEANUP_MORE_DISHES"
	CodeOrderDecision     = "ORDER_DECISION"
	CodeBillingPaid       = "BILLING_PAID"
	CodeChargingPark      = "CHARGING_PARK"
)

// Station references resolved through the same mapping table as
// operator targets.
const (
	stationKind = "STATION"
	refWashing  = "washing"
	refDock     = "charging_dock"
)

// Planner expands a task into its ordered step plan, resolving every
// navigation target up front. A target that cannot be resolved fails
// the whole plan; no run is persisted.
type Planner struct {
	resolver Resolver
}

func NewPlanner(resolver Resolver) *Planner {
	return &Planner{resolver: resolver}
}

// Plan returns the step templates for a task, indexes unset.
func (p *Planner) Plan(task *store.Task) ([]store.WorkflowStep, error) {
	target, err := p.resolver.Resolve(task.TargetKind, task.TargetRef)
	needsTarget := task.Kind != store.KindCharging
	if needsTarget && err != nil {
		return nil, fmt.Errorf("resolve %s/%s: %w", task.TargetKind, task.TargetRef, err)
	}

	switch task.Kind {
	case store.KindNavigate:
		return []store.WorkflowStep{navStep(CodeNavigateTarget, target)}, nil

	case store.KindDelivery:
		return []store.WorkflowStep{
			confirmStep(CodeDeliveryLoaded),
			navStep(CodeNavigateTarget, target),
			confirmStep(CodeDeliveryArrived),
			confirmStep(CodeDeliveryHandedOff),
		}, nil

	case store.KindCleanup:
		washing, err := p.resolver.Resolve(stationKind, refWashing)
		if err != nil {
			return nil, fmt.Errorf("resolve washing station: %w", err)
		}
		return []store.WorkflowStep{
			navStep(CodeNavigateTarget, target),
			confirmStep(CodeCleanupHasDishes),
			navStep(CodeNavigateWashing, washing),
			confirmStep(CodeCleanupMoreDishes),
		}, nil

	case store.KindOrdering:
		return []store.WorkflowStep{
			navStep(CodeNavigateTarget, target),
			confirmStep(CodeOrderDecision),
		}, nil

	case store.KindBilling:
		return []store.WorkflowStep{
			navStep(CodeNavigateTarget, target),
			confirmStep(CodeBillingPaid),
		}, nil

	case store.KindCharging:
		dock, err := p.resolver.Resolve(stationKind, refDock)
		if err != nil {
			return nil, fmt.Errorf("resolve charging dock: %w", err)
		}
		// Park at the dock and hold until the run is canceled or an
		// operator unparks the robot.
		return []store.WorkflowStep{
			navStep(CodeNavigateDock, dock),
			waitStep(CodeChargingPark, nil),
		}, nil
	}
	return nil, fmt.Errorf("unknown task kind %q", task.Kind)
}

func navStep(code string, t *poi.Target) store.WorkflowStep {
	st := store.WorkflowStep{Kind: store.StepNavigate, Code: code, StopRadius: 1.0}
	if t != nil {
		st.AreaID = t.AreaID
		st.X = t.X
		st.Y = t.Y
		st.Yaw = t.Yaw
		if t.Label != "" {
			label := t.Label
			st.Label = &label
		}
	}
	return st
}

func confirmStep(code string) store.WorkflowStep {
	return store.WorkflowStep{Kind: store.StepManualConfirm, Code: code}
}

// waitStep builds a WAIT step; nil seconds means wait indefinitely.
func waitStep(code string, seconds *int) store.WorkflowStep {
	return store.WorkflowStep{Kind: store.StepWait, Code: code, WaitSeconds: seconds}
}
