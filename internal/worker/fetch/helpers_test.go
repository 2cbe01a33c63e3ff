package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/feedharvest/internal/database"
	"github.com/hitoshi/feedharvest/internal/document"
	"github.com/hitoshi/feedharvest/internal/fetcher"
	"github.com/hitoshi/feedharvest/internal/metrics"
	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
	"github.com/hitoshi/feedharvest/internal/source"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// newTestStore はマイグレーション済みのインメモリSQLiteを使うSQLStoreを返す。
func newTestStore(t *testing.T) *repository.SQLStore {
	t.Helper()

	db, err := database.OpenMigrated(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("テスト用DBの準備に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return repository.NewSQLStore(db, database.DriverSQLite)
}

// createSource はテスト用のデータソースを登録して返す。
func createSource(t *testing.T, store repository.Store, id string, kind model.SourceKind, url string, active bool) *model.Source {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &model.Source{
		ID:            id,
		Name:          "テストソース " + id,
		Kind:          kind,
		URL:           url,
		Config:        model.SourceConfig{},
		FetchInterval: time.Hour,
		IsActive:      active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.Sources().Create(context.Background(), src); err != nil {
		t.Fatalf("データソースの登録に失敗: %v", err)
	}
	return src
}

func loadSource(t *testing.T, store repository.Store, id string) *model.Source {
	t.Helper()
	src, err := store.Sources().FindByID(context.Background(), id)
	if err != nil || src == nil {
		t.Fatalf("FindByID = %v, %v", src, err)
	}
	return src
}

// stubFetcher は呼び出し回数を数え、fetchFuncの結果を返すFetcher。
type stubFetcher struct {
	mu        sync.Mutex
	calls     int
	lastURL   string
	lastCfg   model.SourceConfig
	fetchFunc func(ctx context.Context, call int) ([]model.Article, error)
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, cfg model.SourceConfig) ([]model.Article, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.lastURL = url
	f.lastCfg = cfg
	f.mu.Unlock()

	if f.fetchFunc != nil {
		return f.fetchFunc(ctx, call)
	}
	return nil, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// articles はn件の記事を返すfetchFuncを作る。
func articles(links ...string) func(context.Context, int) ([]model.Article, error) {
	return func(context.Context, int) ([]model.Article, error) {
		out := make([]model.Article, 0, len(links))
		for _, l := range links {
			out = append(out, model.Article{Title: "記事 " + l, Content: "本文 " + l, Link: l})
		}
		return out, nil
	}
}

// recordingMetrics はジョブ結果とリトライを記録するMetricsCollector。
type recordingMetrics struct {
	metrics.Nop

	mu      sync.Mutex
	jobs    []string
	retries int
	saved   int
	depth   int
}

func (m *recordingMetrics) RecordJob(kind, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, kind+":"+status)
}

func (m *recordingMetrics) RecordRetry(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMetrics) RecordDocumentsSaved(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved += n
}

func (m *recordingMetrics) SetQueueDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = n
}

type testDispatcher struct {
	*Dispatcher
	store   *repository.SQLStore
	feed    *stubFetcher
	web     *stubFetcher
	agent   *stubFetcher
	metrics *recordingMetrics
	logs    *bytes.Buffer
}

// newTestDispatcher はスタブのFetcherと実DBで組み立てたDispatcherを返す。
// リトライ間隔は1msに短縮している。
func newTestDispatcher(t *testing.T) *testDispatcher {
	t.Helper()
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	store := newTestStore(t)

	feed, web, agent := &stubFetcher{}, &stubFetcher{}, &stubFetcher{}
	mc := &recordingMetrics{}
	d := NewDispatcher(
		store,
		fetcher.NewRegistry(feed, web, agent),
		document.NewPersister(store, logger),
		source.NewStatsRecorder(store, logger),
		mc,
		logger,
		DispatcherConfig{
			JobTimeout:     5 * time.Second,
			RetryBaseDelay: time.Millisecond,
			MaxAttempts:    3,
		},
	)
	return &testDispatcher{
		Dispatcher: d,
		store:      store,
		feed:       feed,
		web:        web,
		agent:      agent,
		metrics:    mc,
		logs:       &buf,
	}
}
