package events

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of a broadcast event.
type EventType string

const (
	// Tasks
	EventTaskCreated  EventType = "task.created"
	EventTaskUpdated  EventType = "task.updated"
	EventTaskCanceled EventType = "task.canceled"

	// Queue
	EventQueueTicked  EventType = "queue.ticked"
	EventQueueUpdated EventType = "queue.updated"

	// Assignment
	EventAssignmentMade       EventType = "assignment.made"
	EventAssignmentFailed     EventType = "assignment.failed"
	EventAssignmentUnassigned EventType = "assignment.unassigned"

	// Workflow runs
	EventWorkflowStarted      EventType = "workflow.started"
	EventWorkflowStepAdvanced EventType = "workflow.step_advanced"
	EventWorkflowFinished     EventType = "workflow.finished"
	EventWorkflowFailed       EventType = "workflow.failed"
	EventWorkflowCanceled     EventType = "workflow.canceled"

	// POI cache
	EventPOICacheUpdated EventType = "poi.cache_updated"
	EventPOICacheError   EventType = "poi.cache_error"

	// System
	EventSystemUpdated      EventType = "system.updated"
	EventSystemReset        EventType = "system.reset"
	EventOrchestratorTicked EventType = "orchestrator.ticked"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceQueue        EventSource = "queue"
	SourceAssignment   EventSource = "assignment"
	SourceWorkflow     EventSource = "workflow"
	SourceOrchestrator EventSource = "orchestrator"
	SourcePOICache     EventSource = "poi-cache"
	SourceControls     EventSource = "controls"
	SourceGateway      EventSource = "gateway"
)

// Event is the envelope broadcast to all sinks.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Source    EventSource `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

var eventIDCounter uint64

// New creates an event with the current timestamp.
func New(eventType EventType, source EventSource, data any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func generateEventID() string {
	seq := atomic.AddUint64(&eventIDCounter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq)
}
