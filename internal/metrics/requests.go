package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RequestsConfig はリクエスト統計の設定
type RequestsConfig struct {
	MaxLatencySamples int // P99 計算に使うサンプル数の上限
}

// DefaultRequestsConfig はデフォルト設定を返す
func DefaultRequestsConfig() RequestsConfig {
	return RequestsConfig{MaxLatencySamples: 1000}
}

// Requests はラインサーバーと負荷生成器のリクエスト統計を収集する
type Requests struct {
	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	totalLatencyNs  atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowRequests    uint64
	latencies         []time.Duration
	maxLatencySamples int
	statuses          map[string]uint64
}

// NewRequests は新しいリクエスト統計を作成する
func NewRequests() *Requests {
	return NewRequestsWithConfig(DefaultRequestsConfig())
}

// NewRequestsWithConfig は設定を指定してリクエスト統計を作成する
func NewRequestsWithConfig(cfg RequestsConfig) *Requests {
	if cfg.MaxLatencySamples <= 0 {
		cfg.MaxLatencySamples = DefaultRequestsConfig().MaxLatencySamples
	}
	now := time.Now()
	return &Requests{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, cfg.MaxLatencySamples),
		maxLatencySamples: cfg.MaxLatencySamples,
		statuses:          make(map[string]uint64),
	}
}

// RecordSuccess は応答を返せたリクエストを記録する
// status は "200 OK" のようなステータス（空なら集計しない）
func (m *Requests) RecordSuccess(status string, latency time.Duration) {
	m.totalRequests.Add(1)
	m.successRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	if status != "" {
		m.statuses[status]++
	}
	m.mu.Unlock()
}

// RecordFailure は応答を返せなかったリクエストを記録する
func (m *Requests) RecordFailure(latency time.Duration) {
	m.totalRequests.Add(1)
	m.failedRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	m.mu.Unlock()
}

// TotalRequests は総リクエスト数を返す
func (m *Requests) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// SuccessRequests は成功リクエスト数を返す
func (m *Requests) SuccessRequests() uint64 {
	return m.successRequests.Load()
}

// FailedRequests は失敗リクエスト数を返す
func (m *Requests) FailedRequests() uint64 {
	return m.failedRequests.Load()
}

// StatusCount は指定ステータスの応答数を返す
func (m *Requests) StatusCount(status string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[status]
}

// RPS は現在のウィンドウの Requests Per Second を返す
func (m *Requests) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowRequests) / elapsed
}

// OverallRPS は開始からの平均RPSを返す
func (m *Requests) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Requests) AverageLatency() time.Duration {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Requests) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Requests) ErrorRate() float64 {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedRequests.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Requests) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
}

// Snapshot はリクエスト統計のスナップショット
type Snapshot struct {
	TotalRequests   uint64            `json:"total_requests"`
	SuccessRequests uint64            `json:"success_requests"`
	FailedRequests  uint64            `json:"failed_requests"`
	RPS             float64           `json:"rps"`
	OverallRPS      float64           `json:"overall_rps"`
	AverageLatency  time.Duration     `json:"avg_latency_ns"`
	P99Latency      time.Duration     `json:"p99_latency_ns"`
	ErrorRate       float64           `json:"error_rate"`
	Elapsed         time.Duration     `json:"elapsed_ns"`
	Statuses        map[string]uint64 `json:"statuses,omitempty"`
}

// Snapshot は現在の統計のスナップショットを返す
func (m *Requests) Snapshot() Snapshot {
	m.mu.RLock()
	statuses := make(map[string]uint64, len(m.statuses))
	for k, v := range m.statuses {
		statuses[k] = v
	}
	m.mu.RUnlock()

	return Snapshot{
		TotalRequests:   m.TotalRequests(),
		SuccessRequests: m.SuccessRequests(),
		FailedRequests:  m.FailedRequests(),
		RPS:             m.RPS(),
		OverallRPS:      m.OverallRPS(),
		AverageLatency:  m.AverageLatency(),
		P99Latency:      m.P99Latency(),
		ErrorRate:       m.ErrorRate(),
		Elapsed:         time.Since(m.startTime),
		Statuses:        statuses,
	}
}

// Report は人間向けのレポートを返す
func (s Snapshot) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requests: %d (success: %d, failed: %d, error rate: %.2f%%)\n",
		s.TotalRequests, s.SuccessRequests, s.FailedRequests, s.ErrorRate*100)
	fmt.Fprintf(&b, "Throughput: %.1f req/s over %v\n", s.OverallRPS, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "Latency: avg %v, p99 %v\n", s.AverageLatency, s.P99Latency)

	keys := make([]string, 0, len(s.Statuses))
	for k := range s.Statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %-16s %d\n", k, s.Statuses[k])
	}
	return b.String()
}
