// Package orchestrator composes the queue, assignment engine, and
// workflow executor into one idempotent progress step, and hosts the
// background drivers that invoke it unattended.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/dohr-michael/fleetd/internal/assign"
	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/metrics"
	"github.com/dohr-michael/fleetd/internal/queue"
	"github.com/dohr-michael/fleetd/internal/workflow"
)

// TickParams tunes one orchestration tick.
type TickParams struct {
	MaxAssignments int    `json:"max_assignments"`
	PreferredRobot string `json:"preferred_robot,omitempty"`
}

// TickResult summarizes one tick.
type TickResult struct {
	Promoted int `json:"promoted"`
	Assigned int `json:"assigned"`

	Progressed int `json:"progressed_runs"`
	Waiting    int `json:"waiting_runs"`
	Finished   int `json:"finished_runs"`
	Failed     int `json:"failed_runs"`
	Canceled   int `json:"canceled_runs"`

	AssignStops []string `json:"assign_stops,omitempty"`
}

// Changed reports whether the tick moved any state.
func (r TickResult) Changed() bool {
	return r.Promoted > 0 || r.Assigned > 0 ||
		r.Progressed+r.Finished+r.Failed+r.Canceled > 0
}

// Orchestrator is the single composition point. Two concurrent ticks
// are safe: the assignment claim and the idempotent per-run advance
// carry all the synchronization.
type Orchestrator struct {
	queue    *queue.Manager
	engine   *assign.Engine
	executor *workflow.Executor
	bus      *events.Bus
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func New(q *queue.Manager, eng *assign.Engine, ex *workflow.Executor, bus *events.Bus, m *metrics.Metrics, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		queue:    q,
		engine:   eng,
		executor: ex,
		bus:      bus,
		metrics:  m,
		log:      log.With("component", "orchestrator"),
	}
}

// Tick runs promote → assign (up to MaxAssignments) → advance all runs,
// in that order, and publishes the summary.
func (o *Orchestrator) Tick(ctx context.Context, params TickParams) (TickResult, error) {
	if params.MaxAssignments <= 0 {
		params.MaxAssignments = 5
	}

	var result TickResult

	promoted, err := o.queue.PromoteDue()
	if err != nil {
		return result, err
	}
	result.Promoted = promoted

	for i := 0; i < params.MaxAssignments; i++ {
		r, err := o.engine.AssignNext(params.PreferredRobot)
		if err != nil {
			return result, err
		}
		if !r.Assigned {
			result.AssignStops = append(result.AssignStops, r.Reason)
			break
		}
		result.Assigned++
	}

	wf, err := o.executor.TickAll(ctx)
	if err != nil {
		return result, err
	}
	result.Progressed = wf.Progressed
	result.Waiting = wf.Waiting
	result.Finished = wf.Finished
	result.Failed = wf.Failed
	result.Canceled = wf.Canceled

	o.record(result)
	if o.bus != nil {
		o.bus.Publish(events.New(events.EventOrchestratorTicked, events.SourceOrchestrator,
			events.OrchestratorTickedPayload{
				Promoted: result.Promoted, Assigned: result.Assigned,
				Progressed: result.Progressed, Finished: result.Finished,
				Failed: result.Failed, Canceled: result.Canceled,
			}))
		if result.Changed() {
			o.bus.Publish(events.New(events.EventSystemUpdated, events.SourceOrchestrator,
				events.SystemUpdatedPayload{Reason: "tick"}))
		}
	}
	return result, nil
}

func (o *Orchestrator) record(r TickResult) {
	if o.metrics == nil {
		return
	}
	o.metrics.Ticks.Inc()
	o.metrics.TasksPromoted.Add(float64(r.Promoted))
	o.metrics.Assignments.WithLabelValues("assigned").Add(float64(r.Assigned))
	o.metrics.RunOutcomes.WithLabelValues("progressed").Add(float64(r.Progressed))
	o.metrics.RunOutcomes.WithLabelValues("waiting").Add(float64(r.Waiting))
	o.metrics.RunOutcomes.WithLabelValues("finished").Add(float64(r.Finished))
	o.metrics.RunOutcomes.WithLabelValues("failed").Add(float64(r.Failed))
	o.metrics.RunOutcomes.WithLabelValues("canceled").Add(float64(r.Canceled))
}
