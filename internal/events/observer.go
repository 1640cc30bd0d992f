package events

import "time"

// Observer publishes worker lifecycle events to a Bus.
// It satisfies worker.Observer; high-volume job callbacks other than
// panics are not published.
type Observer struct {
	bus *Bus
}

// NewObserver returns an Observer publishing to bus
func NewObserver(bus *Bus) *Observer {
	return &Observer{bus: bus}
}

func (o *Observer) WorkerStarted(id int) { o.bus.Publish(NewWorkerStartedEvent(id)) }

func (o *Observer) WorkerExited(id int) { o.bus.Publish(NewWorkerExitedEvent(id)) }

func (o *Observer) JobSubmitted() {}

func (o *Observer) JobStarted(int) {}

func (o *Observer) JobFinished(id int, d time.Duration, panicked bool) {
	if panicked {
		o.bus.Publish(NewJobPanickedEvent(id, d))
	}
}
