package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hitoshi/feedharvest/internal/document"
	"github.com/hitoshi/feedharvest/internal/fetcher"
	"github.com/hitoshi/feedharvest/internal/metrics"
	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
)

// AdHocSourceName は任意URLの手動取得で保存するドキュメントのsource_name。
const AdHocSourceName = "agent"

// defaultJobTimeout は1回の試行全体の上限時間。
const defaultJobTimeout = 10 * time.Minute

// FetcherSelector はデータソースに応じたFetcherを選ぶ。
type FetcherSelector interface {
	For(src *model.Source) (fetcher.Fetcher, error)
	Agent() fetcher.Fetcher
}

// DocumentPersister は記事を重複排除して保存する。
type DocumentPersister interface {
	Persist(ctx context.Context, origin document.Origin, articles []model.Article) (int, error)
	PersistTx(ctx context.Context, uow repository.UnitOfWork, origin document.Origin, articles []model.Article) (int, error)
}

// StatsWriter はデータソースの取得統計を更新する。
type StatsWriter interface {
	RecordResult(ctx context.Context, sourceID string, success bool, errMsg string) error
	RecordTx(ctx context.Context, uow repository.UnitOfWork, sourceID string, success bool, errMsg string) error
}

// DispatcherConfig はDispatcherの実行設定。
type DispatcherConfig struct {
	JobTimeout     time.Duration
	RetryBaseDelay time.Duration
	MaxAttempts    int
}

// Dispatcher は取得ジョブ1件を実行する。
// 取得方式の選択、リトライ、保存、統計更新までを担当し、
// 統計には最終試行の結果だけを記録する。
type Dispatcher struct {
	store     repository.Store
	fetchers  FetcherSelector
	persister DocumentPersister
	stats     StatsWriter
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	cfg       DispatcherConfig
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	store repository.Store,
	fetchers FetcherSelector,
	persister DocumentPersister,
	stats StatsWriter,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &Dispatcher{
		store:     store,
		fetchers:  fetchers,
		persister: persister,
		stats:     stats,
		metrics:   mc,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run はジョブを実行して結果を返す。
// ソースが存在しないか無効化されている場合は統計を更新せずにスキップする。
// 未対応の取得方式はリトライせずに失敗として統計に記録する。
func (d *Dispatcher) Run(ctx context.Context, job model.FetchJob) model.JobResult {
	result := model.JobResult{SourceID: job.SourceID, Attempts: job.Attempt}

	src, err := d.store.Sources().FindByID(ctx, job.SourceID)
	if err != nil {
		result.Status = model.JobStatusFailed
		result.Err = fmt.Errorf("データソースの取得に失敗しました: %w", err)
		d.logger.Error("データソースの取得に失敗しました",
			slog.String("source_id", job.SourceID),
			slog.String("error", err.Error()),
		)
		return result
	}
	if src == nil {
		return d.skip(result, "unknown", model.SkipReasonNotFound)
	}
	kind := string(src.Kind)
	if !src.IsActive {
		return d.skip(result, kind, model.SkipReasonInactive)
	}

	f, err := d.fetchers.For(src)
	if err != nil {
		result.Status = model.JobStatusSkipped
		result.Reason = model.SkipReasonUnsupported
		result.Err = err
		d.recordFailure(ctx, src, err)
		d.metrics.RecordJob(kind, string(result.Status))
		return result
	}

	origin := document.OriginFromSource(src)
	operation := func() error {
		job.Attempt++
		result.Attempts = job.Attempt
		found, saved, err := d.attempt(ctx, f, src, origin)
		if err != nil {
			if model.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result.ArticlesFound = found
		result.ArticlesSaved = saved
		return nil
	}
	notify := func(err error, wait time.Duration) {
		d.metrics.RecordRetry(kind)
		d.logger.Warn("取得に失敗したためリトライします",
			slog.String("source_id", src.ID),
			slog.Int("attempt", result.Attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	policy := NewRetryPolicy(d.cfg.RetryBaseDelay, d.cfg.MaxAttempts)
	policy.Completed = job.Attempt
	err = backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	if err != nil {
		result.Status = model.JobStatusFailed
		result.Err = err
		if ctx.Err() != nil {
			// 停止による中断はソースの失敗として数えない
			d.logger.Warn("停止要求により取得を中断しました",
				slog.String("source_id", src.ID),
				slog.Int("attempts", result.Attempts),
			)
		} else {
			d.recordFailure(ctx, src, err)
		}
		d.metrics.RecordJob(kind, string(result.Status))
		return result
	}

	result.Status = model.JobStatusSuccess
	d.metrics.RecordDocumentsSaved(result.ArticlesSaved)
	d.metrics.RecordJob(kind, string(result.Status))
	d.logger.Info("データソースの取得が完了しました",
		slog.String("source_id", src.ID),
		slog.String("source_name", src.Name),
		slog.Int("articles_found", result.ArticlesFound),
		slog.Int("articles_saved", result.ArticlesSaved),
		slog.Int("attempts", result.Attempts),
		slog.Bool("manual", job.Manual),
	)
	return result
}

// attempt は1回分の取得を行い、成功時は保存と統計更新を1つのトランザクションで行う。
func (d *Dispatcher) attempt(ctx context.Context, f fetcher.Fetcher, src *model.Source, origin document.Origin) (int, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	articles, err := f.Fetch(attemptCtx, src.URL, src.Config)
	d.metrics.RecordFetchLatency(string(src.Kind), time.Since(start))
	if err != nil {
		return 0, 0, err
	}

	var saved int
	err = d.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		n, err := d.persister.PersistTx(ctx, uow, origin, articles)
		if err != nil {
			return err
		}
		saved = n
		return d.stats.RecordTx(ctx, uow, src.ID, true, "")
	})
	if err != nil {
		if errors.Is(err, model.ErrSourceNotFound) {
			return len(articles), 0, model.Permanent(err)
		}
		return len(articles), 0, err
	}
	return len(articles), saved, nil
}

// RunURL は任意URLをエージェント取得し、結果を保存する。
// データソースに紐づかないため統計は更新せず、リトライもしない。
func (d *Dispatcher) RunURL(ctx context.Context, rawURL, query string) model.JobResult {
	result := model.JobResult{Attempts: 1}

	cfg := model.SourceConfig{}
	if query != "" {
		cfg[model.ConfigAgentQuery] = query
	}

	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	articles, err := d.fetchers.Agent().Fetch(fetchCtx, rawURL, cfg)
	d.metrics.RecordFetchLatency(AdHocSourceName, time.Since(start))
	if err != nil {
		return d.failURL(result, rawURL, err)
	}
	result.ArticlesFound = len(articles)

	origin := document.Origin{
		Name: AdHocSourceName,
		Type: string(model.SourceKindWeb),
		URL:  rawURL,
	}
	saved, err := d.persister.Persist(ctx, origin, articles)
	if err != nil {
		return d.failURL(result, rawURL, err)
	}

	result.Status = model.JobStatusSuccess
	result.ArticlesSaved = saved
	d.metrics.RecordDocumentsSaved(saved)
	d.metrics.RecordJob(AdHocSourceName, string(result.Status))
	d.logger.Info("URLの手動取得が完了しました",
		slog.String("url", rawURL),
		slog.Int("articles_found", result.ArticlesFound),
		slog.Int("articles_saved", saved),
	)
	return result
}

func (d *Dispatcher) failURL(result model.JobResult, rawURL string, err error) model.JobResult {
	result.Status = model.JobStatusFailed
	result.Err = err
	d.metrics.RecordJob(AdHocSourceName, string(result.Status))
	d.logger.Error("URLの手動取得に失敗しました",
		slog.String("url", rawURL),
		slog.String("error", err.Error()),
	)
	return result
}

func (d *Dispatcher) skip(result model.JobResult, kind, reason string) model.JobResult {
	result.Status = model.JobStatusSkipped
	result.Reason = reason
	d.metrics.RecordJob(kind, string(result.Status))
	d.logger.Warn("取得ジョブをスキップしました",
		slog.String("source_id", result.SourceID),
		slog.String("reason", reason),
	)
	return result
}

func (d *Dispatcher) recordFailure(ctx context.Context, src *model.Source, cause error) {
	d.logger.Error("データソースの取得に失敗しました",
		slog.String("source_id", src.ID),
		slog.String("source_name", src.Name),
		slog.String("url", src.URL),
		slog.String("error", cause.Error()),
	)
	if err := d.stats.RecordResult(ctx, src.ID, false, cause.Error()); err != nil {
		d.logger.Error("取得統計の更新に失敗しました",
			slog.String("source_id", src.ID),
			slog.String("error", err.Error()),
		)
	}
}
