package server

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/worker"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"
)

//go:embed static/*
var staticFiles embed.FS

const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 NOT FOUND"

	PageIndex    = "index.html"
	PageNotFound = "404.html"

	// maxRequestLine はリクエスト行の最大長
	maxRequestLine = 8 << 10
)

var (
	// ErrEmptyRequest is returned when a client sends no request line.
	ErrEmptyRequest = errors.New("server: empty request line")
	// ErrRequestLineTooLong is returned when the request line exceeds maxRequestLine.
	ErrRequestLineTooLong = errors.New("server: request line too long")
)

// Submitter はジョブを受け付けるプール
type Submitter interface {
	TrySubmit(job worker.Job) error
}

// Config はサーバーの設定
type Config struct {
	Addr           string        // 待ち受けアドレス
	MaxConnections int           // n 件受け付けたら停止する（0で無制限）
	MaxOpenConns   int           // 同時オープン接続数の上限（0で無制限）
	Pages          fs.FS         // index.html と 404.html
	SleepDelay     time.Duration // GET /sleep の待ち時間
	ReadTimeout    time.Duration // リクエスト行の読み込み期限（0で無制限）
	Logger         *logger.Logger
	Requests       *metrics.Requests // nil なら内部で作成
	Events         *events.Bus       // nil なら通知しない
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:7878",
		Pages:       DefaultPages(),
		SleepDelay:  5 * time.Second,
		ReadTimeout: 5 * time.Second,
	}
}

// DefaultPages は埋め込みのページを返す
func DefaultPages() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// DirPages はディレクトリからページを読む fs.FS を返す
func DirPages(dir string) fs.FS {
	return os.DirFS(dir)
}

// Server はラインサーバー
type Server struct {
	cfg      Config
	pool     Submitter
	log      *logger.Scope
	requests *metrics.Requests

	mu sync.Mutex
	ln net.Listener

	accepted atomic.Uint64
}

// New は新しいサーバーを作成する
func New(cfg Config, pool Submitter) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Pages == nil {
		cfg.Pages = def.Pages
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Default
	}
	reqs := cfg.Requests
	if reqs == nil {
		reqs = metrics.NewRequests()
	}
	return &Server{
		cfg:      cfg,
		pool:     pool,
		log:      l.Scoped("server"),
		requests: reqs,
	}
}

// ListenAndServe は cfg.Addr で待ち受けて Serve する
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ln で接続を受け付け、接続ごとに1つのジョブをプールへ投入する
// ctx のキャンセル、接続数上限、プールのクローズのいずれかで戻る
// プールは閉じない。投入済みのジョブを待つには呼び出し側がプールを Close する
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxOpenConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxOpenConns)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	s.log.Info("Listening on %s", ln.Addr())

	reason, err := s.acceptLoop(ctx, ln)
	_ = ln.Close()

	s.log.Info("Shutting down. (%s, %d connections accepted)", reason, s.accepted.Load())
	if s.cfg.Events != nil {
		s.cfg.Events.Publish(events.NewServerStoppedEvent(s.accepted.Load(), reason))
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) (string, error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return "context canceled", nil
			}
			if errors.Is(err, net.ErrClosed) {
				return "listener closed", nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept timeout: %v", err)
				continue
			}
			return "accept failed", fmt.Errorf("accept: %w", err)
		}

		n := s.accepted.Add(1)
		id := uuid.NewString()
		if err := s.pool.TrySubmit(s.connJob(conn, id)); err != nil {
			s.log.Warn("[%s] dropping connection from %s: %v", id, conn.RemoteAddr(), err)
			_ = conn.Close()
			return "pool closed", nil
		}

		if s.cfg.MaxConnections > 0 && n >= uint64(s.cfg.MaxConnections) {
			return "connection limit reached", nil
		}
	}
}

// Addr は待ち受け中のアドレスを返す（Serve 前は nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Accepted は受け付けた接続数を返す
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Requests はリクエスト統計を返す
func (s *Server) Requests() *metrics.Requests {
	return s.requests
}

func (s *Server) connJob(conn net.Conn, id string) worker.Job {
	return worker.JobFunc(func() {
		s.handleConn(conn, id)
	})
}

// handleConn はリクエスト行だけを読み、ページを返して接続を閉じる
func (s *Server) handleConn(conn net.Conn, id string) {
	defer conn.Close()

	start := time.Now()
	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(start.Add(s.cfg.ReadTimeout))
	}

	line, err := readRequestLine(bufio.NewReaderSize(conn, maxRequestLine))
	if err != nil {
		s.log.Warn("[%s] %s: bad request: %v", id, conn.RemoteAddr(), err)
		s.requests.RecordFailure(time.Since(start))
		return
	}

	rt := s.route(line)
	if rt.delay > 0 {
		time.Sleep(rt.delay)
	}

	contents, err := fs.ReadFile(s.cfg.Pages, rt.page)
	if err != nil {
		s.log.Error("[%s] failed to read %s: %v", id, rt.page, err)
		s.requests.RecordFailure(time.Since(start))
		return
	}

	if _, err := conn.Write(FormatResponse(rt.status, contents)); err != nil {
		s.log.Warn("[%s] write failed: %v", id, err)
		s.requests.RecordFailure(time.Since(start))
		return
	}

	elapsed := time.Since(start)
	s.log.Debug("[%s] %q -> %s (%v)", id, line, rt.status, elapsed)
	s.requests.RecordSuccess(strings.TrimPrefix(rt.status, "HTTP/1.1 "), elapsed)
}

type route struct {
	status string
	page   string
	delay  time.Duration
}

// route はリクエスト行を完全一致でルーティングする
func (s *Server) route(line string) route {
	switch line {
	case "GET / HTTP/1.1":
		return route{status: StatusOK, page: PageIndex}
	case "GET /sleep HTTP/1.1":
		return route{status: StatusOK, page: PageIndex, delay: s.cfg.SleepDelay}
	default:
		return route{status: StatusNotFound, page: PageNotFound}
	}
}

// readRequestLine は最初の1行を CRLF を除いて返す
// 改行なしで EOF になった場合も、読めた分を1行として扱う
func readRequestLine(r *bufio.Reader) (string, error) {
	raw, err := r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrRequestLineTooLong
	case err != nil && !(errors.Is(err, io.EOF) && len(raw) > 0):
		if errors.Is(err, io.EOF) {
			return "", ErrEmptyRequest
		}
		return "", err
	}

	line := strings.TrimRight(string(raw), "\r\n")
	if line == "" {
		return "", ErrEmptyRequest
	}
	return line, nil
}

// FormatResponse はステータス行、Content-Length、本文を連結する
func FormatResponse(status string, contents []byte) []byte {
	header := fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n", status, len(contents))
	return append([]byte(header), contents...)
}
