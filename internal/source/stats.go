package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedharvest/internal/repository"
)

// maxErrorLength はlast_errorに保存するエラーメッセージの最大バイト数。
const maxErrorLength = 1000

// StatsRecorder はジョブの最終結果をデータソースの統計に反映する。
// 加算はSQLの原子的な更新で行うため、同一ソースへの同時記録でも数え漏れは起きない。
type StatsRecorder struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStatsRecorder はStatsRecorderを生成する。
func NewStatsRecorder(store repository.Store, logger *slog.Logger) *StatsRecorder {
	return &StatsRecorder{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RecordResult は独自のトランザクションで結果を記録する。
func (r *StatsRecorder) RecordResult(ctx context.Context, sourceID string, success bool, errMsg string) error {
	return r.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		return r.RecordTx(ctx, uow, sourceID, success, errMsg)
	})
}

// RecordTx は呼び出し元のトランザクション内で結果を記録する。
// 成功時はlast_errorを空に戻す。
func (r *StatsRecorder) RecordTx(ctx context.Context, uow repository.UnitOfWork, sourceID string, success bool, errMsg string) error {
	if success {
		errMsg = ""
	} else if len(errMsg) > maxErrorLength {
		errMsg = truncateValidUTF8(errMsg, maxErrorLength)
	}

	if err := uow.Sources().RecordFetchResult(ctx, sourceID, success, errMsg, r.now().UTC()); err != nil {
		return err
	}

	r.logger.Debug("取得統計を更新しました",
		slog.String("source_id", sourceID),
		slog.Bool("success", success),
	)
	return nil
}

// truncateValidUTF8 はsを最大nバイトに切り詰める。マルチバイト文字の途中では切らない。
func truncateValidUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
