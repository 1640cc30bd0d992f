package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"
)

// Config は管理APIの設定
type Config struct {
	Addr           string
	CORSOrigins    []string      // 空なら "*"
	StatusInterval time.Duration // /ws へ status を送る間隔
	Logger         *logger.Logger
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8080",
		CORSOrigins:    []string{"*"},
		StatusInterval: time.Second,
	}
}

// PoolInspector はプールの状態を読むためのインターフェース
type PoolInspector interface {
	Size() int
	LiveWorkers() int
	QueueLen() int
	Closed() bool
	Workers() []worker.WorkerInfo
}

// Server は管理APIサーバー
type Server struct {
	cfg      Config
	pool     PoolInspector
	requests *metrics.Requests
	bus      *events.Bus
	gatherer prometheus.Gatherer
	log      *logger.Scope

	quit     chan struct{}
	quitOnce sync.Once
}

// NewServer は新しい管理APIサーバーを作成する
// requests と bus は nil でもよい。gatherer が nil なら prometheus.DefaultGatherer を使う
func NewServer(cfg Config, pool PoolInspector, requests *metrics.Requests, bus *events.Bus, gatherer prometheus.Gatherer) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = def.CORSOrigins
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Default
	}
	return &Server{
		cfg:      cfg,
		pool:     pool,
		requests: requests,
		bus:      bus,
		gatherer: gatherer,
		log:      l.Scoped("api"),
		quit:     make(chan struct{}),
	}
}

// Handler はルーティング済みの http.Handler を返す
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Handle("/ws", websocket.Handler(s.handleWebSocket))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/workers", s.handleWorkers)
	})
	return r
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("API Server starting on http://%s", s.cfg.Addr)

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close は接続中の WebSocket クライアントを切断する
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Workers     int               `json:"workers"`
	LiveWorkers int               `json:"live_workers"`
	BusyWorkers int               `json:"busy_workers"`
	QueueDepth  int               `json:"queue_depth"`
	Closed      bool              `json:"closed"`
	Requests    *metrics.Snapshot `json:"requests,omitempty"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Workers:     s.pool.Size(),
		LiveWorkers: s.pool.LiveWorkers(),
		QueueDepth:  s.pool.QueueLen(),
		Closed:      s.pool.Closed(),
	}
	for _, w := range s.pool.Workers() {
		if w.State == worker.StateExecuting {
			resp.BusyWorkers++
		}
	}
	if s.requests != nil {
		snap := s.requests.Snapshot()
		resp.Requests = &snap
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.status())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.pool.Workers())
}

// Message は /ws で送るメッセージ
type Message struct {
	Type   string          `json:"type"`
	Status *StatusResponse `json:"status,omitempty"`
	Event  *events.Event   `json:"event,omitempty"`
}

// handleWebSocket はクライアントごとにバスを購読し、イベントと定期ステータスを送る
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	defer ws.Close()

	var sub <-chan events.Event
	if s.bus != nil {
		sub = s.bus.Subscribe()
		defer s.bus.Unsubscribe(sub)
	}

	// 受信はしないが、切断を検知するために読み続ける
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}()

	if !s.sendStatus(ws) {
		return
	}

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-gone:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, Message{Type: "event", Event: &ev}); err != nil {
				return
			}
		case <-ticker.C:
			if !s.sendStatus(ws) {
				return
			}
		}
	}
}

func (s *Server) sendStatus(ws *websocket.Conn) bool {
	status := s.status()
	if err := websocket.JSON.Send(ws, Message{Type: "status", Status: &status}); err != nil {
		s.log.Debug("websocket send failed: %v", err)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON: %v", err)
	}
}
