package events

import (
	"time"

	"github.com/arlo/taskdeck/internal/task"
)

// Event is the base interface for all events published on the bus.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask       = "task"
	TopicDependency = "dependency"
)

// Event type constants
const (
	EventTypeTaskCreated       = "task.created"
	EventTypeTaskStatusChanged = "task.status_changed"
	EventTypeTaskFailed        = "task.failed"
	EventTypeTaskCancelled     = "task.cancelled"
	EventTypeDepAdded          = "dependency.added"
	EventTypeDepRemoved        = "dependency.removed"
	EventTypeDepResolved       = "dependency.resolved"
	EventTypeDepStatusChanged  = "dependency.status_changed"
	EventTypeAutoStart         = "dependency.autostart"
)

// TaskCreatedEvent is published when a new task is accepted.
type TaskCreatedEvent struct {
	ID        string
	Repo      string
	Timestamp time.Time
}

func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) TaskID() string    { return e.ID }

// TaskStatusChangedEvent is published on every successful status transition.
type TaskStatusChangedEvent struct {
	ID        string
	From      task.Status
	To        task.Status
	Timestamp time.Time
}

func (e TaskStatusChangedEvent) EventType() string { return EventTypeTaskStatusChanged }
func (e TaskStatusChangedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task lands in failed.
type TaskFailedEvent struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published after an early-status task is deleted.
type TaskCancelledEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// DependencyAddedEvent is published when a dependency is attached to a task.
type DependencyAddedEvent struct {
	ID           string // Owning task
	DependencyID string
	Kind         task.DependencyKind
	Timestamp    time.Time
}

func (e DependencyAddedEvent) EventType() string { return EventTypeDepAdded }
func (e DependencyAddedEvent) TaskID() string    { return e.ID }

// DependencyRemovedEvent is published when a dependency is detached.
type DependencyRemovedEvent struct {
	ID           string
	DependencyID string
	Timestamp    time.Time
}

func (e DependencyRemovedEvent) EventType() string { return EventTypeDepRemoved }
func (e DependencyRemovedEvent) TaskID() string    { return e.ID }

// DependencyResolvedEvent is published when a dependency reaches resolved.
type DependencyResolvedEvent struct {
	ID           string
	DependencyID string
	Timestamp    time.Time
}

func (e DependencyResolvedEvent) EventType() string { return EventTypeDepResolved }
func (e DependencyResolvedEvent) TaskID() string    { return e.ID }

// DependencyStatusChangedEvent is published when a task's derived dependency
// status actually changes value.
type DependencyStatusChangedEvent struct {
	ID        string
	From      task.DerivedStatus
	To        task.DerivedStatus
	Timestamp time.Time
}

func (e DependencyStatusChangedEvent) EventType() string { return EventTypeDepStatusChanged }
func (e DependencyStatusChangedEvent) TaskID() string    { return e.ID }

// TaskUpdateEvent is the generic real-time update pushed toward connected
// clients by the broadcaster collaborator.
type TaskUpdateEvent struct {
	ID        string
	Kind      string
	Payload   map[string]any
	Timestamp time.Time
}

func (e TaskUpdateEvent) EventType() string { return "task.update." + e.Kind }
func (e TaskUpdateEvent) TaskID() string    { return e.ID }

// AutoStartEvent signals that a task with auto-start enabled became startable
// after a dependency resolved. Consumption is left to an external scheduler;
// the graph engine never dispatches directly.
type AutoStartEvent struct {
	ID        string
	Timestamp time.Time
}

func (e AutoStartEvent) EventType() string { return EventTypeAutoStart }
func (e AutoStartEvent) TaskID() string    { return e.ID }
