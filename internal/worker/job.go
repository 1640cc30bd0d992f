package worker

// Job はワーカーが一度だけ実行する作業単位
// プールはジョブの中身を知らない
type Job interface {
	Run()
}

// JobFunc は関数を Job として扱うためのアダプタ
type JobFunc func()

// Run は f() を呼び出す
func (f JobFunc) Run() { f() }
