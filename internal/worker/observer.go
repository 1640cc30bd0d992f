package worker

import "time"

// Observer receives pool lifecycle callbacks. Implementations must be safe
// for concurrent use; callbacks run on worker and submitter goroutines.
type Observer interface {
	WorkerStarted(id int)
	WorkerExited(id int)
	JobSubmitted()
	JobStarted(workerID int)
	JobFinished(workerID int, d time.Duration, panicked bool)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) WorkerStarted(int) {}
func (NopObserver) WorkerExited(int) {}
func (NopObserver) JobSubmitted() {}
func (NopObserver) JobStarted(int) {}
func (NopObserver) JobFinished(int, time.Duration, bool) {}

type multiObserver []Observer

// MultiObserver fans every callback out to each non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return NopObserver{}
	case 1:
		return m[0]
	}
	return m
}

func (m multiObserver) WorkerStarted(id int) {
	for _, o := range m {
		o.WorkerStarted(id)
	}
}

func (m multiObserver) WorkerExited(id int) {
	for _, o := range m {
		o.WorkerExited(id)
	}
}

func (m multiObserver) JobSubmitted() {
	for _, o := range m {
		o.JobSubmitted()
	}
}

func (m multiObserver) JobStarted(workerID int) {
	for _, o := range m {
		o.JobStarted(workerID)
	}
}

func (m multiObserver) JobFinished(workerID int, d time.Duration, panicked bool) {
	for _, o := range m {
		o.JobFinished(workerID, d, panicked)
	}
}
