package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
)

// Scheduler は取得間隔を過ぎたアクティブなデータソースをキューに投入する。
// 手動トリガーも同じキューを経由させ、同一ソースの同時実行を防ぐ。
type Scheduler struct {
	sources repository.SourceRepository
	queue   *Queue
	logger  *slog.Logger

	now func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(sources repository.SourceRepository, queue *Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sources: sources,
		queue:   queue,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start はintervalごとのティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取得スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取得スケジューラを停止しました")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		// 次のティックで再試行する
		s.logger.Error("スケジュールサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はアクティブなソースのうち取得期限を過ぎたものをキューに投入し、投入件数を返す。
// 既に待機中のソースは飛ばす。キューが満杯になった場合は残りを次のサイクルに回す。
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	sources, err := s.sources.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("アクティブなデータソースの取得に失敗しました: %w", err)
	}

	now := s.now()
	enqueued := 0
	for _, src := range sources {
		if !src.IsDue(now) {
			continue
		}
		err := s.queue.Enqueue(model.FetchJob{
			SourceID:   src.ID,
			EnqueuedAt: now,
		})
		switch {
		case err == nil:
			enqueued++
		case errors.Is(err, model.ErrJobAlreadyQueued):
			continue
		case errors.Is(err, model.ErrQueueFull):
			s.logger.Warn("取得キューが満杯のため残りを次のサイクルに回します",
				slog.String("source_id", src.ID),
			)
			return enqueued, nil
		default:
			return enqueued, err
		}
	}

	if enqueued > 0 {
		s.logger.Info("取得ジョブを投入しました",
			slog.Int("enqueued", enqueued),
			slog.Int("active_sources", len(sources)),
		)
	}
	return enqueued, nil
}

// Trigger は指定ソースの取得を取得間隔に関係なくキューに投入する。
// ソースが存在しない場合はmodel.ErrSourceNotFound、無効化されている場合は
// model.ErrSourceInactiveを返す。キュー側のエラーはそのまま返す。
func (s *Scheduler) Trigger(ctx context.Context, sourceID string) error {
	src, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("データソースの取得に失敗しました: %w", err)
	}
	if src == nil {
		return model.ErrSourceNotFound
	}
	if !src.IsActive {
		return model.ErrSourceInactive
	}

	if err := s.queue.Enqueue(model.FetchJob{
		SourceID:   src.ID,
		EnqueuedAt: s.now(),
		Manual:     true,
	}); err != nil {
		return err
	}

	s.logger.Info("手動取得を受け付けました",
		slog.String("source_id", src.ID),
		slog.String("source_name", src.Name),
	)
	return nil
}
