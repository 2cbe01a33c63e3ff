package fetch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/feedharvest/internal/model"
)

// JobRunner は取得ジョブ1件を実行する。
type JobRunner interface {
	Run(ctx context.Context, job model.FetchJob) model.JobResult
}

// Pool はキューからジョブを受け取り、固定数のワーカーで並列に実行する。
type Pool struct {
	queue   *Queue
	runner  JobRunner
	logger  *slog.Logger
	workers int
}

// NewPool はPoolを生成する。workersが0以下の場合はデフォルト値10を使用する。
func NewPool(queue *Queue, runner JobRunner, logger *slog.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = 10
	}
	return &Pool{
		queue:   queue,
		runner:  runner,
		logger:  logger,
		workers: workers,
	}
}

// Start はワーカーを起動し、コンテキストがキャンセルされて
// 全ワーカーが実行中のジョブを終えるまでブロックする。
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("ワーカープールを開始しました",
		slog.Int("workers", p.workers),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info("ワーカープールを停止しました")
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue.Jobs():
			p.runOne(ctx, id, job)
		}
	}
}

func (p *Pool) runOne(ctx context.Context, id int, job model.FetchJob) {
	defer p.queue.Done(job.SourceID)
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("取得ジョブの実行中にpanicが発生しました",
				slog.Int("worker", id),
				slog.String("source_id", job.SourceID),
				slog.Any("panic", rec),
			)
		}
	}()

	result := p.runner.Run(ctx, job)
	p.logger.Debug("取得ジョブが終了しました",
		slog.Int("worker", id),
		slog.String("source_id", job.SourceID),
		slog.String("status", string(result.Status)),
		slog.Int("attempts", result.Attempts),
	)
}
