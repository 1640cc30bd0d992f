package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/websocket"
)

type fakePool struct {
	size    int
	live    int
	queue   int
	closed  bool
	workers []worker.WorkerInfo
}

func (f *fakePool) Size() int { return f.size }
func (f *fakePool) LiveWorkers() int { return f.live }
func (f *fakePool) QueueLen() int { return f.queue }
func (f *fakePool) Closed() bool { return f.closed }
func (f *fakePool) Workers() []worker.WorkerInfo { return f.workers }

func newFakePool() *fakePool {
	return &fakePool{
		size:  2,
		live:  2,
		queue: 3,
		workers: []worker.WorkerInfo{
			{ID: 0, State: worker.StateExecuting, Status: worker.StateExecuting.String(), JobsRun: 4},
			{ID: 1, State: worker.StateWaiting, Status: worker.StateWaiting.String(), JobsRun: 1},
		},
	}
}

func newTestServer(t *testing.T, pool PoolInspector, reqs *metrics.Requests, bus *events.Bus, g prometheus.Gatherer) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(Config{
		StatusInterval: time.Hour,
		Logger:         logger.New(io.Discard, logger.LevelError),
	}, pool, reqs, bus, g)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, newFakePool(), nil, nil, prometheus.NewRegistry())

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestStatus(t *testing.T) {
	reqs := metrics.NewRequests()
	reqs.RecordSuccess("200 OK", time.Millisecond)
	_, ts := newTestServer(t, newFakePool(), reqs, nil, prometheus.NewRegistry())

	resp, body := get(t, ts.URL+"/api/status")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	var status StatusResponse
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Workers != 2 || status.LiveWorkers != 2 || status.BusyWorkers != 1 || status.QueueDepth != 3 {
		t.Errorf("unexpected status %+v", status)
	}
	if status.Closed {
		t.Error("expected open pool")
	}
	if status.Requests == nil || status.Requests.TotalRequests != 1 {
		t.Errorf("expected request snapshot, got %+v", status.Requests)
	}
}

func TestStatusWithoutRequests(t *testing.T) {
	pool := newFakePool()
	pool.closed = true
	_, ts := newTestServer(t, pool, nil, nil, prometheus.NewRegistry())

	_, body := get(t, ts.URL+"/api/status")
	if strings.Contains(body, "requests") {
		t.Errorf("requests should be omitted: %s", body)
	}
	if !strings.Contains(body, `"closed":true`) {
		t.Errorf("expected closed pool: %s", body)
	}
}

func TestWorkers(t *testing.T) {
	_, ts := newTestServer(t, newFakePool(), nil, nil, prometheus.NewRegistry())

	_, body := get(t, ts.URL+"/api/workers")
	var infos []struct {
		ID      int    `json:"id"`
		State   string `json:"state"`
		JobsRun uint64 `json:"jobs_run"`
	}
	if err := json.Unmarshal([]byte(body), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 workers, got %d", len(infos))
	}
	if infos[0].State != "Executing" || infos[0].JobsRun != 4 {
		t.Errorf("unexpected worker 0: %+v", infos[0])
	}
	if infos[1].State != "WaitingForJob" {
		t.Errorf("unexpected worker 1: %+v", infos[1])
	}
}

func TestWorkersWithRealPool(t *testing.T) {
	pool, err := worker.NewWithConfig(worker.Config{
		Workers: 3,
		Logger:  logger.New(io.Discard, logger.LevelError),
	})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer pool.Close()
	_, ts := newTestServer(t, pool, nil, nil, prometheus.NewRegistry())

	_, body := get(t, ts.URL+"/api/workers")
	if n := strings.Count(body, `"id"`); n != 3 {
		t.Errorf("expected 3 workers, got %d in %s", n, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := metrics.NewPoolMetrics(reg)
	pm.JobSubmitted()
	_, ts := newTestServer(t, newFakePool(), nil, nil, reg)

	_, body := get(t, ts.URL+"/metrics")
	if !strings.Contains(body, "poolserve_jobs_submitted_total 1") {
		t.Errorf("expected submitted counter in metrics output:\n%s", body)
	}
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, newFakePool(), nil, nil, prometheus.NewRegistry())

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	_, ts := newTestServer(t, newFakePool(), nil, nil, prometheus.NewRegistry())

	resp, _ := get(t, ts.URL+"/api/jobs")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, err := websocket.Dial(url, "", ts.URL)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	_ = ws.SetDeadline(time.Now().Add(2 * time.Second))
	return ws
}

func TestWebSocketStreamsEvents(t *testing.T) {
	bus := events.NewBus()
	_, ts := newTestServer(t, newFakePool(), nil, bus, prometheus.NewRegistry())

	ws := dialWS(t, ts)
	defer ws.Close()

	var first Message
	if err := websocket.JSON.Receive(ws, &first); err != nil {
		t.Fatalf("receive status: %v", err)
	}
	if first.Type != "status" || first.Status == nil || first.Status.Workers != 2 {
		t.Fatalf("unexpected first message %+v", first)
	}

	// the initial status is sent after subscribing
	bus.Publish(events.NewWorkerExitedEvent(1))

	var msg Message
	if err := websocket.JSON.Receive(ws, &msg); err != nil {
		t.Fatalf("receive event: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.Type != events.EventWorkerExited {
		t.Fatalf("unexpected event message %+v", msg)
	}
	if msg.Event.Data.WorkerID == nil || *msg.Event.Data.WorkerID != 1 {
		t.Errorf("unexpected worker id in %+v", msg.Event.Data)
	}
}

func TestWebSocketPeriodicStatus(t *testing.T) {
	s := NewServer(Config{
		StatusInterval: 20 * time.Millisecond,
		Logger:         logger.New(io.Discard, logger.LevelError),
	}, newFakePool(), nil, nil, prometheus.NewRegistry())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Close()

	ws := dialWS(t, ts)
	defer ws.Close()

	for i := range 3 {
		var msg Message
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if msg.Type != "status" {
			t.Errorf("message %d: expected status, got %q", i, msg.Type)
		}
	}
}

func TestCloseDisconnectsWebSocket(t *testing.T) {
	bus := events.NewBus()
	s, ts := newTestServer(t, newFakePool(), nil, bus, prometheus.NewRegistry())

	ws := dialWS(t, ts)
	defer ws.Close()

	var first Message
	if err := websocket.JSON.Receive(ws, &first); err != nil {
		t.Fatalf("receive status: %v", err)
	}

	s.Close()
	var msg Message
	if err := websocket.JSON.Receive(ws, &msg); err == nil {
		t.Errorf("expected disconnect, got %+v", msg)
	}

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected subscription released, got %d", n)
	}
}
