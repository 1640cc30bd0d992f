package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/worker"
)

// ErrMalformedResponse はレスポンスを解釈できない場合のエラー
var ErrMalformedResponse = errors.New("client: malformed response")

// Config はClientの設定
type Config struct {
	Addr          string        // 対象サーバーのアドレス
	Workers       int           // 同時実行数（0でCPU数）
	Paths         []string      // リクエストするパス（ランダムに選択）
	RequestsLimit uint64        // リクエスト上限（0で無制限）
	Timeout       time.Duration // 1リクエストの期限
	Logger        *logger.Logger
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:    "127.0.0.1:7878",
		Workers: 0, // CPU数
		Paths:   []string{"/"},
		Timeout: 10 * time.Second,
	}
}

// Response はラインサーバーのレスポンス
type Response struct {
	StatusLine    string
	ContentLength int
	Body          []byte
}

// StatusCode はステータス行の数値コードを返す（解釈できなければ0）
func (r *Response) StatusCode() int {
	fields := strings.Fields(r.StatusLine)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// Status はプロトコルを除いたステータスを返す（例: "200 OK"）
func (r *Response) Status() string {
	_, status, ok := strings.Cut(r.StatusLine, " ")
	if !ok {
		return r.StatusLine
	}
	return status
}

// Get は addr に1回だけリクエストを送り、接続が閉じられるまで読む
func Get(ctx context.Context, addr, path string, timeout time.Duration) (*Response, error) {
	var d net.Dialer
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", path, addr); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return ParseResponse(raw)
}

// ParseResponse はステータス行、Content-Length、本文に分解する
func ParseResponse(raw []byte) (*Response, error) {
	head, body, ok := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !ok {
		return nil, fmt.Errorf("%w: no header terminator", ErrMalformedResponse)
	}
	lines := strings.Split(string(head), "\r\n")
	resp := &Response{StatusLine: lines[0], ContentLength: -1, Body: body}
	if !strings.HasPrefix(resp.StatusLine, "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedResponse, resp.StatusLine)
	}
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: content length %q", ErrMalformedResponse, value)
		}
		resp.ContentLength = n
	}
	if resp.ContentLength >= 0 && resp.ContentLength != len(body) {
		return nil, fmt.Errorf("%w: content length %d, body %d bytes", ErrMalformedResponse, resp.ContentLength, len(body))
	}
	return resp, nil
}

// Client は負荷生成器
type Client struct {
	config  Config
	log     *logger.Scope
	pool    *worker.Pool
	metrics *metrics.Requests

	submitted atomic.Uint64
	running   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New は新しいClientを作成する
func New(config Config) *Client {
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if len(config.Paths) == 0 {
		config.Paths = def.Paths
	}
	l := config.Logger
	if l == nil {
		l = logger.Default
	}
	return &Client{
		config:  config,
		log:     l.Scoped("client"),
		metrics: metrics.NewRequests(),
	}
}

// Start は負荷生成を開始する
func (c *Client) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return nil // Already running
	}

	pool, err := worker.NewWithConfig(worker.Config{
		Workers:       c.config.Workers,
		QueueCapacity: c.config.Workers,
		Logger:        c.config.Logger,
	})
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("failed to create client pool: %w", err)
	}
	c.pool = pool
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.log.Info("Client started (target: %s, workers: %d, paths: %v)",
		c.config.Addr, c.config.Workers, c.config.Paths)

	c.wg.Add(1)
	go c.generateRequests()
	return nil
}

// generateRequests はリクエストを生成し続ける
// キュー容量はワーカー数なので、投入はワーカーが空くまでブロックする
func (c *Client) generateRequests() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.config.RequestsLimit > 0 && c.submitted.Load() >= c.config.RequestsLimit {
			return
		}

		path := c.config.Paths[rand.Intn(len(c.config.Paths))]
		if err := c.pool.TrySubmit(c.createJob(path)); err != nil {
			return
		}
		c.submitted.Add(1)
	}
}

// createJob はリクエストジョブを作成する
func (c *Client) createJob(path string) worker.Job {
	return worker.JobFunc(func() {
		start := time.Now()
		resp, err := Get(c.ctx, c.config.Addr, path, c.config.Timeout)
		latency := time.Since(start)
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Debug("GET %s failed: %v", path, err)
			}
			c.metrics.RecordFailure(latency)
			return
		}
		c.metrics.RecordSuccess(resp.Status(), latency)
	})
}

// Stop は負荷生成を停止し、実行中のリクエストを待つ
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return // Not running
	}

	c.cancel()
	c.wg.Wait()
	c.pool.Close()

	c.log.Info("Client stopped (%d requests)", c.metrics.TotalRequests())
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Requests {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// RunFor は指定時間だけ負荷生成を実行する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) (*metrics.Snapshot, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}

	c.Stop()

	snapshot := c.metrics.Snapshot()
	return &snapshot, nil
}

// RunRequests は指定数のリクエストを実行する
func (c *Client) RunRequests(ctx context.Context, count uint64) (*metrics.Snapshot, error) {
	c.config.RequestsLimit = count
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	c.wg.Wait()
	c.drain()

	snapshot := c.metrics.Snapshot()
	return &snapshot, nil
}

// drain は投入済みのジョブを完了させてから停止する
func (c *Client) drain() {
	if !c.running.Swap(false) {
		return
	}
	c.pool.Close()
	c.cancel()

	c.log.Info("Client stopped (%d requests)", c.metrics.TotalRequests())
}
