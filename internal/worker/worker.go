package worker

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"poolserve/internal/logger"
)

// State はワーカーの状態
type State int32

const (
	StateWaiting    State = iota // ジョブ待ち
	StateExecuting               // ジョブ実行中
	StateTerminated              // 終了（戻らない）
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WaitingForJob"
	case StateExecuting:
		return "Executing"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Worker はキューからジョブを取り出して実行するゴルーチン
type Worker struct {
	id    int
	state atomic.Int32
	jobs  atomic.Uint64
	done  chan struct{} // ゴルーチン終了時に close される
	log   *logger.Scope
}

// WorkerInfo はワーカーの状態のスナップショット
type WorkerInfo struct {
	ID      int    `json:"id"`
	State   State  `json:"-"`
	Status  string `json:"state"`
	JobsRun uint64 `json:"jobs_run"`
}

func newWorker(id int, l *logger.Logger) *Worker {
	return &Worker{
		id:   id,
		done: make(chan struct{}),
		log:  l.Scoped(fmt.Sprintf("worker-%d", id)),
	}
}

// ID はワーカー番号を返す
func (w *Worker) ID() int { return w.id }

// State は現在の状態を返す
func (w *Worker) State() State { return State(w.state.Load()) }

// JobsRun は実行したジョブ数を返す
func (w *Worker) JobsRun() uint64 { return w.jobs.Load() }

func (w *Worker) info() WorkerInfo {
	st := w.State()
	return WorkerInfo{ID: w.id, State: st, Status: st.String(), JobsRun: w.JobsRun()}
}

// run はワーカーのメインループ
// 受信だけがブロックする。Recv のロックはジョブ実行前に解放されている
func (w *Worker) run(rx *Receiver, policy PanicPolicy, obs Observer, onExit func()) {
	defer close(w.done)

	for {
		job, ok := rx.Recv()
		if !ok {
			w.log.Info("Worker %d disconnected; shutting down.", w.id)
			w.terminate(obs, onExit)
			return
		}

		w.state.Store(int32(StateExecuting))
		w.log.Debug("Worker %d got a job; executing.", w.id)

		panicked := w.execute(job, obs)
		w.jobs.Add(1)

		if panicked && policy == PanicExit {
			w.log.Error("Worker %d exiting after job panic; no replacement will be started", w.id)
			w.terminate(obs, onExit)
			return
		}
		w.state.Store(int32(StateWaiting))
	}
}

// execute はジョブを同期的に実行する
// panic は捕捉してログに残し、panicked=true を返す
func (w *Worker) execute(job Job, obs Observer) (panicked bool) {
	obs.JobStarted(w.id)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			w.log.Error("job panicked: %v\n%s", r, debug.Stack())
		}
		obs.JobFinished(w.id, time.Since(start), panicked)
	}()

	job.Run()
	return false
}

func (w *Worker) terminate(obs Observer, onExit func()) {
	w.state.Store(int32(StateTerminated))
	onExit()
	obs.WorkerExited(w.id)
}

// join はワーカーのゴルーチンが終了するまで待つ
func (w *Worker) join() {
	<-w.done
}
