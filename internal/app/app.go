package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/feedharvest/internal/config"
	"github.com/hitoshi/feedharvest/internal/database"
	"github.com/hitoshi/feedharvest/internal/document"
	"github.com/hitoshi/feedharvest/internal/fetcher"
	"github.com/hitoshi/feedharvest/internal/handler"
	"github.com/hitoshi/feedharvest/internal/logger"
	"github.com/hitoshi/feedharvest/internal/metrics"
	"github.com/hitoshi/feedharvest/internal/middleware"
	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
	"github.com/hitoshi/feedharvest/internal/security"
	"github.com/hitoshi/feedharvest/internal/source"
	"github.com/hitoshi/feedharvest/internal/summarizer"
	fetchpkg "github.com/hitoshi/feedharvest/internal/worker/fetch"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの猶予。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数でConfigを読み込み、ログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// pipeline は取得パイプラインを構成するコンポーネント一式。
// serve、worker、fetchの各コマンドで共通して使う。
type pipeline struct {
	db         *sql.DB
	store      *repository.SQLStore
	guard      *security.URLGuard
	registry   *prometheus.Registry
	sources    *source.Service
	queue      *fetchpkg.Queue
	dispatcher *fetchpkg.Dispatcher
	pool       *fetchpkg.Pool
	scheduler  *fetchpkg.Scheduler
}

// newPipeline はDB接続を開き、全依存関係をワイヤリングする。
// マイグレーションは冪等なため起動時に毎回適用する。
func newPipeline(cfg *config.Config, log *slog.Logger) (*pipeline, error) {
	// 1. DB接続
	db, err := database.OpenMigrated(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info("database connection established", slog.String("driver", cfg.DatabaseDriver))

	store := repository.NewSQLStore(db, cfg.DatabaseDriver)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	// 3. 取得系
	guard := security.NewURLGuard(cfg.FetchBlockPrivate)
	politeness := fetcher.NewPoliteness(cfg.HostRatePerSec, cfg.PoliteDelayFeed, cfg.PoliteDelayWeb)
	client := fetcher.NewHTTPClient(guard, politeness, cfg.FetchTimeout, cfg.FetchMaxSize, cfg.UserAgent, mc, log)
	robots := fetcher.NewRobotsChecker(client, cfg.RobotsTTL, cfg.RobotsTimeout, mc, log)

	web := fetcher.NewWebFetcher(client, robots, politeness, log)
	feed := fetcher.NewFeedFetcher(client, robots, politeness, web, security.NewTextSanitizer(), cfg.MinContentLength, log)
	ollama := summarizer.NewOllamaClient(&http.Client{Timeout: cfg.AgentTimeout}, cfg.OllamaBaseURL, cfg.OllamaModel, log)
	agent := fetcher.NewAgentFetcher(web, ollama, mc, log)

	// 4. 保存・統計・登録
	persister := document.NewPersister(store, log)
	stats := source.NewStatsRecorder(store, log)
	sources := source.NewService(store, guard, log)

	// 5. ワーカー
	queue := fetchpkg.NewQueue(cfg.FetchQueueSize, mc)
	dispatcher := fetchpkg.NewDispatcher(
		store,
		fetcher.NewRegistry(feed, web, agent),
		persister,
		stats,
		mc,
		log,
		fetchpkg.DispatcherConfig{
			JobTimeout:     cfg.JobTimeout,
			RetryBaseDelay: cfg.RetryBaseDelay,
			MaxAttempts:    cfg.RetryMaxAttempts,
		},
	)

	return &pipeline{
		db:         db,
		store:      store,
		guard:      guard,
		registry:   registry,
		sources:    sources,
		queue:      queue,
		dispatcher: dispatcher,
		pool:       fetchpkg.NewPool(queue, dispatcher, log, cfg.FetchMaxConcurrent),
		scheduler:  fetchpkg.NewScheduler(store.Sources(), queue, log),
	}, nil
}

// Close はDB接続を閉じる。
func (p *pipeline) Close() error {
	return p.db.Close()
}

// seedDefaults は設定で有効な場合に既定データソースを登録する。
func (p *pipeline) seedDefaults(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if !cfg.SeedDefaultSources {
		return nil
	}
	n, err := p.sources.Seed(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed default sources: %w", err)
	}
	log.Info("default sources seeded", slog.Int("created", n))
	return nil
}

// runWorkers はスケジューラとワーカープールを起動し、ctxがキャンセルされるまでブロックする。
// 戻った時点で実行中のジョブはすべて終了している。
func (p *pipeline) runWorkers(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.pool.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		p.scheduler.Start(ctx, cfg.SchedulerTick)
	}()

	log.Info("worker starting",
		slog.Duration("scheduler_tick", cfg.SchedulerTick),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
		slog.Int("queue_size", cfg.FetchQueueSize),
	)
	wg.Wait()
}

// runServe はAPIサーバーとワーカーを同一プロセスで起動する。
// ctxがキャンセルされるとHTTPサーバーをグレースフルシャットダウンし、ワーカーの終了を待つ。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	p, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.seedDefaults(ctx, cfg, log); err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.ManualTriggerRate), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:       log,
		Trigger:      p.scheduler,
		URLRunner:    p.dispatcher,
		URLValidator: p.guard,
		RateLimiter:  rateLimiter,
		Sources:      p.sources,
		DB:           p.db,
		Queue:        p.queue,
		Metrics:      metrics.Handler(p.registry),
	})

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// 任意URL取得はエージェントの応答を同期で待つ
		WriteTimeout: cfg.FetchTimeout + cfg.AgentTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		p.runWorkers(workerCtx, cfg, log)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
	case listenErr = <-serveErr:
	}
	log.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)
	for range serveErr {
	}

	stopWorkers()
	<-workersDone

	if listenErr != nil {
		return fmt.Errorf("server listen error: %w", listenErr)
	}
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown failed: %w", shutdownErr)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はスケジューラとワーカープールのみを起動する。
// ctxがキャンセルされると新規ジョブの取り出しを止め、実行中のジョブの終了を待って戻る。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	p, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.seedDefaults(ctx, cfg, log); err != nil {
		return err
	}

	p.runWorkers(ctx, cfg, log)

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db, cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は既定データソースを登録し、登録件数をoutに出力する。
// SEED_DEFAULT_SOURCESの値に関わらず実行する。
func runSeed(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log := slog.Default()

	p, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	n, err := p.sources.Seed(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed default sources: %w", err)
	}
	fmt.Fprintf(out, "seeded %d source(s)\n", n)
	return nil
}

// fetchOptions はfetchコマンドの対象指定。sourceIDとURLのどちらか一方を指定する。
type fetchOptions struct {
	sourceID string
	url      string
	query    string
}

// runFetch は1件の取得をプロセス内で同期実行し、結果をJSONでoutに出力する。
// ソース指定の場合は取得間隔を無視し、スケジュール実行と同じリトライ・統計更新を行う。
func runFetch(ctx context.Context, cfg *config.Config, opts fetchOptions, out io.Writer) error {
	log := slog.Default()

	p, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	var result model.JobResult
	if opts.sourceID != "" {
		result = p.dispatcher.Run(ctx, model.FetchJob{
			SourceID:   opts.sourceID,
			EnqueuedAt: time.Now(),
			Manual:     true,
		})
	} else {
		if err := p.guard.ValidateURL(opts.url); err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		result = p.dispatcher.RunURL(ctx, opts.url, opts.query)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	switch result.Status {
	case model.JobStatusFailed:
		return fmt.Errorf("fetch failed: %s", result.ErrorMessage())
	case model.JobStatusSkipped:
		return fmt.Errorf("fetch skipped: %s", result.Reason)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthcheckPort はhealthcheckコマンドの接続先ポートを返す。
// 設定全体を読み込まずに済むようSERVER_PORTのみを参照する。
func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		// SQLiteのファイルパスなど
		return raw
	}
	return u.Redacted()
}
