package fetcher

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/feedharvest/internal/metrics"
	"github.com/hitoshi/feedharvest/internal/security"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testSite はパスごとの応答とアクセス回数を管理するテスト用サイト。
type testSite struct {
	t      *testing.T
	server *httptest.Server

	mu     sync.Mutex
	hits   map[string]int
	routes map[string]http.HandlerFunc
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	s := &testSite{
		t:      t,
		hits:   make(map[string]int),
		routes: make(map[string]http.HandlerFunc),
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		h, ok := s.routes[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *testSite) handle(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = h
}

// serve は固定の本文とContent-Typeを返すルートを登録する。
func (s *testSite) serve(path, contentType, body string) {
	s.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	})
}

func (s *testSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *testSite) url(path string) string {
	return s.server.URL + path
}

// recordingMetrics は呼び出しを記録するMetricsCollector。
type recordingMetrics struct {
	metrics.Nop

	mu            sync.Mutex
	statuses      []int
	robotsBlocked int
	fallbacks     int
}

func (m *recordingMetrics) RecordHTTPStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, code)
}

func (m *recordingMetrics) RecordRobotsBlocked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.robotsBlocked++
}

func (m *recordingMetrics) RecordSummarizerFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

// testDeps はテスト用に組み立てたフェッチャーの依存関係。
type testDeps struct {
	http       *HTTPClient
	robots     *RobotsChecker
	politeness *Politeness
	metrics    *recordingMetrics
	logger     *slog.Logger
	logs       *bytes.Buffer
}

// newTestDeps はループバックへの接続を許可し、待機時間を0にした依存関係を返す。
func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	mc := &recordingMetrics{}
	politeness := NewPoliteness(0, 0, 0)
	client := NewHTTPClient(security.NewURLGuard(false), politeness, 5*time.Second, 1<<20, "TestAgent/1.0", mc, logger)
	robots := NewRobotsChecker(client, time.Hour, 2*time.Second, mc, logger)
	return &testDeps{
		http:       client,
		robots:     robots,
		politeness: politeness,
		metrics:    mc,
		logger:     logger,
		logs:       &buf,
	}
}

func (d *testDeps) webFetcher() *WebFetcher {
	return NewWebFetcher(d.http, d.robots, d.politeness, d.logger)
}

func (d *testDeps) feedFetcher(minContentLength int) *FeedFetcher {
	return NewFeedFetcher(d.http, d.robots, d.politeness, d.webFetcher(), security.NewTextSanitizer(), minContentLength, d.logger)
}
