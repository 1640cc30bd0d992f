package worker

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueClosed is returned by Send once every producing handle has been released.
	ErrQueueClosed = errors.New("worker: queue closed")
	// ErrNilJob is returned when a nil Job is submitted.
	ErrNilJob = errors.New("worker: nil job")
)

// queue は Sender と Receiver が共有する FIFO
type queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []Job
	capacity int // 0 で無制限
	senders  int // 生存している送信ハンドル数
	closed   bool
}

// NewQueue はジョブキューを作成し、送信側と受信側のハンドルを返す
// capacity が 0 以下の場合は無制限
func NewQueue(capacity int) (*Sender, *Receiver) {
	if capacity < 0 {
		capacity = 0
	}
	q := &queue{capacity: capacity, senders: 1}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return &Sender{q: q}, &Receiver{q: q}
}

// Sender はキューの送信ハンドル
// 複数のゴルーチンから同時に使用できる
type Sender struct {
	q        *queue
	released atomic.Bool
}

// Send はジョブをキューの末尾に追加する
// 容量付きキューが満杯の場合は空きが出るかキューが閉じるまでブロックする
func (s *Sender) Send(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	if s.released.Load() {
		return ErrQueueClosed
	}

	q := s.q
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.capacity > 0 && len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, job)
	q.notEmpty.Signal()
	return nil
}

// Clone は同じキューへの新しい送信ハンドルを返す
// キューは全ての送信ハンドルが Release されたときに閉じる
func (s *Sender) Clone() *Sender {
	q := s.q
	q.mu.Lock()
	defer q.mu.Unlock()

	c := &Sender{q: q}
	if q.closed || s.released.Load() {
		c.released.Store(true)
		return c
	}
	q.senders++
	return c
}

// Release はこのハンドルを手放す（2回目以降は何もしない）
func (s *Sender) Release() {
	if s.released.Swap(true) {
		return
	}

	q := s.q
	q.mu.Lock()
	defer q.mu.Unlock()

	q.senders--
	if q.senders == 0 {
		q.closed = true
		q.notEmpty.Broadcast()
		q.notFull.Broadcast()
	}
}

// Receiver はキューの受信ハンドル
// 全ワーカーで共有され、排他は Recv の内部でのみ行う
type Receiver struct {
	q *queue
}

// Recv は次のジョブを取り出す
// キューが空の間はブロックし、閉じられて空になった場合は (nil, false) を返す
func (r *Receiver) Recv() (Job, bool) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}

	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if q.capacity > 0 {
		q.notFull.Signal()
	}
	return job, true
}

// Len は未処理のジョブ数を返す
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// Closed はキューが閉じられているかを返す
func (r *Receiver) Closed() bool {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return r.q.closed
}
