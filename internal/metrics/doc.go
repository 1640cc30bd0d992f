// Package metrics provides pool and request metrics collection.
//
// PoolMetrics exposes the worker pool through Prometheus collectors. It
// implements worker.Observer, so it is attached through worker.Config:
//
//	reg := prometheus.NewRegistry()
//	pm := metrics.NewPoolMetrics(reg)
//	pool, _ := worker.NewWithConfig(worker.Config{Workers: 4, Observer: pm})
//	pm.TrackQueue(pool.QueueLen)
//
// Collected series (namespace "poolserve"): jobs_submitted_total,
// jobs_completed_total, jobs_panicked_total, workers_live, workers_busy,
// job_duration_seconds and queue_depth.
//
// Requests collects statistics about request latency, success/failure
// rates, response statuses and throughput (RPS) for the line server and the
// load generator.
//
//	m := metrics.NewRequests()
//
//	start := time.Now()
//	// ... serve a request ...
//	m.RecordSuccess("200 OK", time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Print(snap.Report())
//
// # Thread Safety
//
// All operations use atomic counters or a mutex and are safe for concurrent
// access.
package metrics
