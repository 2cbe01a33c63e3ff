// Package fetch は取得ジョブのスケジューリングと実行を提供する。
// スケジューラ、ジョブキュー、ワーカープール、リトライ付きのディスパッチャーを含む。
package fetch

import (
	"sync"

	"github.com/hitoshi/feedharvest/internal/metrics"
	"github.com/hitoshi/feedharvest/internal/model"
)

// Queue は取得ジョブの有界キュー。
// 同一ソースのジョブは待機中または実行中に1件までしか受け付けない。
type Queue struct {
	jobs    chan model.FetchJob
	metrics metrics.MetricsCollector

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewQueue は容量sizeのQueueを生成する。sizeが0以下の場合は1とする。
func NewQueue(size int, mc metrics.MetricsCollector) *Queue {
	if size <= 0 {
		size = 1
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Queue{
		jobs:    make(chan model.FetchJob, size),
		metrics: mc,
		pending: make(map[string]struct{}),
	}
}

// Enqueue はジョブを追加する。ブロックしない。
// 同一ソースが待機中または実行中ならmodel.ErrJobAlreadyQueued、
// 容量を超える場合はmodel.ErrQueueFullを返す。
func (q *Queue) Enqueue(job model.FetchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[job.SourceID]; ok {
		return model.ErrJobAlreadyQueued
	}

	select {
	case q.jobs <- job:
	default:
		return model.ErrQueueFull
	}

	q.pending[job.SourceID] = struct{}{}
	q.metrics.SetQueueDepth(len(q.pending))
	return nil
}

// Jobs はワーカーが受信するチャネルを返す。
func (q *Queue) Jobs() <-chan model.FetchJob {
	return q.jobs
}

// Done はソースのジョブ完了を記録し、同じソースを再投入できるようにする。
func (q *Queue) Done(sourceID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.pending, sourceID)
	q.metrics.SetQueueDepth(len(q.pending))
}

// Pending はソースのジョブが待機中または実行中かを返す。
func (q *Queue) Pending(sourceID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.pending[sourceID]
	return ok
}

// Len は待機中と実行中のジョブ数を返す。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}
