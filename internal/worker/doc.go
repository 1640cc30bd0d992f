// Package worker provides a fixed-size goroutine pool for executing jobs.
//
// A Pool owns a fixed set of Workers and the producing handle of a FIFO job
// queue. Every Worker shares the queue's single consuming handle; the
// receive is the only step serialized between them, and it is released
// before the job runs, so jobs execute in parallel.
//
// # Basic Usage
//
//	pool := worker.New(4) // 4 workers, started immediately
//	defer pool.Close()
//
//	for i := 0; i < 100; i++ {
//	    pool.SubmitFunc(func() {
//	        // do work
//	    })
//	}
//
// New panics when size <= 0. NewWithConfig returns ErrInvalidSize instead,
// which suits sizes read from configuration.
//
// # Configuration
//
//	pool, err := worker.NewWithConfig(worker.Config{
//	    Workers:       8,
//	    QueueCapacity: 1024,          // 0 means unbounded
//	    PanicPolicy:   worker.PanicExit,
//	    Observer:      metrics,       // optional lifecycle callbacks
//	})
//
// With an unbounded queue Submit never waits for a free worker. With a
// bounded queue Submit blocks while the queue is full.
//
// # Panics
//
// Jobs run inside a recover boundary. Under PanicRecover (the default) the
// panic is logged and the worker keeps serving the queue. Under PanicExit
// the worker terminates and is not replaced, so pool capacity drops by one.
//
// # Graceful Shutdown
//
// Close releases the producing handle, which closes the queue. Workers drain
// whatever is still queued, observe the closed queue and exit; Close returns
// once every worker has been joined. In-flight jobs are never interrupted
// and there is no timeout. Submit after Close panics with ErrPoolClosed;
// TrySubmit reports the same error without panicking.
package worker
