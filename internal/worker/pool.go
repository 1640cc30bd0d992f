package worker

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"poolserve/internal/logger"
)

var (
	// ErrInvalidSize is returned when a pool is requested with no workers.
	ErrInvalidSize = errors.New("worker: pool size must be greater than zero")
	// ErrPoolClosed is returned when submitting to a pool after Close has begun.
	ErrPoolClosed = errors.New("worker: pool closed")
)

// PanicPolicy はジョブが panic したときのワーカーの振る舞い
type PanicPolicy int

const (
	// PanicRecover はログを出してワーカーのループを継続する
	PanicRecover PanicPolicy = iota
	// PanicExit はそのワーカーだけを終了させる（再起動しない）
	PanicExit
)

func (p PanicPolicy) String() string {
	switch p {
	case PanicRecover:
		return "recover"
	case PanicExit:
		return "exit"
	default:
		return "unknown"
	}
}

// ParsePanicPolicy は文字列をPanicPolicyに変換する
func ParsePanicPolicy(s string) (PanicPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recover":
		return PanicRecover, nil
	case "exit":
		return PanicExit, nil
	default:
		return PanicRecover, fmt.Errorf("unknown panic policy: %q", s)
	}
}

// Config はワーカープールの設定
type Config struct {
	Workers       int         // ワーカー数（1以上）
	QueueCapacity int         // キュー容量（0で無制限）
	PanicPolicy   PanicPolicy // ジョブ panic 時の振る舞い
	Observer      Observer    // nil なら通知しない
	Logger        *logger.Logger
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Workers:       runtime.NumCPU(),
		QueueCapacity: 0,
		PanicPolicy:   PanicRecover,
	}
}

// Pool は固定数のワーカーとジョブキューの送信ハンドルを持つ
type Pool struct {
	workers  []*Worker
	rx       *Receiver
	observer Observer
	log      *logger.Scope

	mu     sync.RWMutex
	sender *Sender // Close 開始後は nil

	live atomic.Int32
}

// New は size 個のワーカーを持つプールを作成する
// size が 0 以下の場合は panic する
func New(size int) *Pool {
	cfg := DefaultConfig()
	cfg.Workers = size
	p, err := NewWithConfig(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// NewWithConfig は設定を指定してプールを作成する
// ワーカーはこの時点で全て起動される
func NewWithConfig(cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, cfg.Workers)
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Default
	}
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	tx, rx := NewQueue(cfg.QueueCapacity)
	p := &Pool{
		workers:  make([]*Worker, 0, cfg.Workers),
		rx:       rx,
		observer: obs,
		log:      l.Scoped("pool"),
		sender:   tx,
	}

	p.live.Store(int32(cfg.Workers))
	onExit := func() { p.live.Add(-1) }
	for id := range cfg.Workers {
		w := newWorker(id, l)
		p.workers = append(p.workers, w)
		obs.WorkerStarted(id)
		go w.run(rx, cfg.PanicPolicy, obs, onExit)
	}

	p.log.Info("WorkerPool started with %d workers (queue capacity: %s, panic policy: %s)",
		cfg.Workers, capacityString(cfg.QueueCapacity), cfg.PanicPolicy)
	return p, nil
}

func capacityString(c int) string {
	if c <= 0 {
		return "unbounded"
	}
	return strconv.Itoa(c)
}

// Submit はジョブをキューに追加してすぐに戻る
// Close 後の呼び出しはプログラミングエラーとして panic する
func (p *Pool) Submit(job Job) {
	if err := p.TrySubmit(job); err != nil {
		panic(fmt.Errorf("worker: Submit: %w", err))
	}
}

// SubmitFunc は関数をジョブとして送信する
func (p *Pool) SubmitFunc(f func()) {
	if f == nil {
		p.Submit(nil)
		return
	}
	p.Submit(JobFunc(f))
}

// TrySubmit は Submit と同じだが、Close 後は panic せず ErrPoolClosed を返す
func (p *Pool) TrySubmit(job Job) error {
	if job == nil {
		return ErrNilJob
	}

	p.mu.RLock()
	tx := p.sender
	p.mu.RUnlock()

	if tx == nil {
		return ErrPoolClosed
	}
	if err := tx.Send(job); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return ErrPoolClosed
		}
		return err
	}

	p.observer.JobSubmitted()
	return nil
}

// Close はキューを閉じ、全ワーカーの終了を待つ
// 実行中のジョブは中断せず、キューに残ったジョブは全て実行される
// 2回目以降の呼び出しは何もしない
func (p *Pool) Close() {
	p.mu.Lock()
	tx := p.sender
	p.sender = nil
	p.mu.Unlock()

	if tx == nil {
		return
	}
	tx.Release()

	for _, w := range p.workers {
		p.log.Info("Shutting down worker %d", w.id)
		w.join()
	}

	// PanicExit で全ワーカーが先に終了していた場合のみ残る
	if n := p.rx.Len(); n > 0 {
		p.log.Warn("%d queued jobs were not executed: no live workers remained", n)
	}
	p.log.Info("WorkerPool stopped")
}

// Size はプール作成時のワーカー数を返す
func (p *Pool) Size() int {
	return len(p.workers)
}

// LiveWorkers は終了していないワーカー数を返す
func (p *Pool) LiveWorkers() int {
	return int(p.live.Load())
}

// QueueLen はキューで待っているジョブ数を返す
func (p *Pool) QueueLen() int {
	return p.rx.Len()
}

// Closed は Close が開始されたかを返す
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sender == nil
}

// Workers は各ワーカーのスナップショットを返す
func (p *Pool) Workers() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		infos = append(infos, w.info())
	}
	return infos
}
