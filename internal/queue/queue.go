// Package queue orders ready work and promotes scheduled tasks by time.
package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/dohr-michael/fleetd/internal/clock"
	"github.com/dohr-michael/fleetd/internal/events"
	"github.com/dohr-michael/fleetd/internal/store"
)

// basePriority is the restaurant default ranking per task kind.
func basePriority(kind store.TaskKind) int {
	switch kind {
	case store.KindDelivery:
		return 100
	case store.KindBilling:
		return 80
	case store.KindOrdering:
		return 60
	case store.KindNavigate:
		return 30
	case store.KindCleanup:
		return 10
	case store.KindCharging:
		return 5
	}
	return 0
}

// agingBonus adds one point per ten minutes a task has waited.
func agingBonus(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt).Minutes()
	if age < 0 {
		age = 0
	}
	return age / 10.0
}

// Entry is one position in the ready queue.
type Entry struct {
	TaskID            int64            `json:"task_id"`
	Kind              store.TaskKind   `json:"kind"`
	Status            store.TaskStatus `json:"status"`
	Title             string           `json:"title"`
	TargetKind        string           `json:"target_kind"`
	TargetRef         string           `json:"target_ref"`
	ReleaseAt         *time.Time       `json:"release_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	OperatorOverride  int              `json:"operator_override"`
	EffectivePriority float64          `json:"effective_priority"`
}

// Manager promotes due tasks and computes the priority-ordered ready queue.
type Manager struct {
	store *store.Store
	clk   clock.Clock
	bus   *events.Bus
}

func NewManager(st *store.Store, clk clock.Clock, bus *events.Bus) *Manager {
	return &Manager{store: st, clk: clk, bus: bus}
}

// PromoteDue moves every PENDING task whose release time has passed (or
// was never set) to READY. Idempotent.
func (m *Manager) PromoteDue() (int, error) {
	promoted, err := m.store.PromoteDue(m.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("promote due: %w", err)
	}
	if promoted > 0 && m.bus != nil {
		m.bus.Publish(events.New(events.EventQueueTicked, events.SourceQueue,
			events.QueueTickedPayload{Promoted: promoted}))
	}
	return promoted, nil
}

// ReadyQueue returns READY, unassigned tasks ordered by descending
// effective priority; ties break by older created_at.
func (m *Manager) ReadyQueue() ([]Entry, error) {
	tasks, err := m.store.ListReadyUnassigned()
	if err != nil {
		return nil, err
	}
	overrides, err := m.store.Overrides()
	if err != nil {
		return nil, err
	}

	now := m.clk.Now()
	entries := make([]Entry, 0, len(tasks))
	for _, t := range tasks {
		ov := overrides[t.ID]
		entries = append(entries, Entry{
			TaskID:            t.ID,
			Kind:              t.Kind,
			Status:            t.Status,
			Title:             t.Title,
			TargetKind:        t.TargetKind,
			TargetRef:         t.TargetRef,
			ReleaseAt:         t.ReleaseAt,
			CreatedAt:         t.CreatedAt,
			OperatorOverride:  ov,
			EffectivePriority: float64(basePriority(t.Kind)) + float64(ov) + agingBonus(t.CreatedAt, now),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].EffectivePriority != entries[j].EffectivePriority {
			return entries[i].EffectivePriority > entries[j].EffectivePriority
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Stats returns per-status task counts.
func (m *Manager) Stats() (map[string]int, error) {
	return m.store.StatusCounts()
}

// SetOverride records an operator bias for one task.
func (m *Manager) SetOverride(taskID int64, override int) error {
	if _, err := m.store.GetTask(taskID); err != nil {
		return err
	}
	if err := m.store.SetOverride(taskID, override); err != nil {
		return err
	}
	if m.bus != nil {
		m.bus.Publish(events.New(events.EventQueueUpdated, events.SourceQueue,
			events.QueueUpdatedPayload{Reason: "override.set"}))
	}
	return nil
}

// ClearOverride removes an operator bias; effective priority returns to
// base + aging.
func (m *Manager) ClearOverride(taskID int64) (bool, error) {
	ok, err := m.store.ClearOverride(taskID)
	if err != nil {
		return false, err
	}
	if ok && m.bus != nil {
		m.bus.Publish(events.New(events.EventQueueUpdated, events.SourceQueue,
			events.QueueUpdatedPayload{Reason: "override.cleared"}))
	}
	return ok, nil
}

// GetOverride returns the current bias for a task, 0 when unset.
func (m *Manager) GetOverride(taskID int64) (int, error) {
	return m.store.GetOverride(taskID)
}
