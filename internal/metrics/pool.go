package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "poolserve"

// PoolMetrics はワーカープールの Prometheus コレクタ
// worker.Observer を実装する
type PoolMetrics struct {
	reg prometheus.Registerer

	JobsSubmitted prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsPanicked  prometheus.Counter
	WorkersLive   prometheus.Gauge
	WorkersBusy   prometheus.Gauge
	JobDuration   prometheus.Histogram
}

// NewPoolMetrics はコレクタを作成して reg に登録する
// reg が nil の場合は prometheus.DefaultRegisterer を使う
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PoolMetrics{
		reg: reg,
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs submitted to the pool",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs that ran to completion, including panicked ones",
		}),
		JobsPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_panicked_total",
			Help:      "Total number of jobs that panicked",
		}),
		WorkersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_live",
			Help:      "Number of worker goroutines that have not terminated",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Number of workers currently executing a job",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Histogram of job execution time",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.JobsSubmitted,
		m.JobsCompleted,
		m.JobsPanicked,
		m.WorkersLive,
		m.WorkersBusy,
		m.JobDuration,
	)
	return m
}

// TrackQueue はキュー長を返す関数を queue_depth ゲージとして登録する
func (m *PoolMetrics) TrackQueue(depth func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of jobs waiting in the queue",
	}, func() float64 {
		return float64(depth())
	}))
}

func (m *PoolMetrics) WorkerStarted(int) { m.WorkersLive.Inc() }

func (m *PoolMetrics) WorkerExited(int) { m.WorkersLive.Dec() }

func (m *PoolMetrics) JobSubmitted() { m.JobsSubmitted.Inc() }

func (m *PoolMetrics) JobStarted(int) { m.WorkersBusy.Inc() }

func (m *PoolMetrics) JobFinished(_ int, d time.Duration, panicked bool) {
	m.WorkersBusy.Dec()
	m.JobsCompleted.Inc()
	if panicked {
		m.JobsPanicked.Inc()
	}
	m.JobDuration.Observe(d.Seconds())
}
