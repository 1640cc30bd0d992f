// Package events provides a pub/sub event system for pool and server lifecycle notifications.
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventWorkerStarted is emitted when a worker goroutine is spawned
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerExited is emitted when a worker observes the closed queue or exits after a panic
	EventWorkerExited EventType = "worker_exited"
	// EventJobPanicked is emitted when a job panics inside a worker
	EventJobPanicked EventType = "job_panicked"
	// EventPoolClosed is emitted once every worker has been joined
	EventPoolClosed EventType = "pool_closed"
	// EventServerStopped is emitted when the accept loop stops
	EventServerStopped EventType = "server_stopped"
)

// Event represents a pool or server event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	WorkerID *int   `json:"worker_id,omitempty"`
	Duration string `json:"duration,omitempty"`
	Served   uint64 `json:"served,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func workerSource(id int) string {
	return fmt.Sprintf("worker-%d", id)
}

// NewWorkerStartedEvent creates a worker started event
func NewWorkerStartedEvent(id int) Event {
	return Event{
		Type:      EventWorkerStarted,
		Timestamp: time.Now(),
		Source:    workerSource(id),
		Data:      EventData{WorkerID: &id},
	}
}

// NewWorkerExitedEvent creates a worker exited event
func NewWorkerExitedEvent(id int) Event {
	return Event{
		Type:      EventWorkerExited,
		Timestamp: time.Now(),
		Source:    workerSource(id),
		Data:      EventData{WorkerID: &id},
	}
}

// NewJobPanickedEvent creates a job panicked event
func NewJobPanickedEvent(id int, d time.Duration) Event {
	return Event{
		Type:      EventJobPanicked,
		Timestamp: time.Now(),
		Source:    workerSource(id),
		Data: EventData{
			WorkerID: &id,
			Duration: d.String(),
		},
	}
}

// NewPoolClosedEvent creates a pool closed event
func NewPoolClosedEvent() Event {
	return Event{
		Type:      EventPoolClosed,
		Timestamp: time.Now(),
		Source:    "pool",
	}
}

// NewServerStoppedEvent creates a server stopped event
func NewServerStoppedEvent(served uint64, reason string) Event {
	return Event{
		Type:      EventServerStopped,
		Timestamp: time.Now(),
		Source:    "server",
		Data: EventData{
			Served: served,
			Reason: reason,
		},
	}
}
