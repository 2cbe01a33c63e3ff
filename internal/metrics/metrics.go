// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやフェッチャーから利用する。
type MetricsCollector interface {
	RecordJob(kind, status string)
	RecordFetchLatency(kind string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordDocumentsSaved(count int)
	RecordRetry(kind string)
	RecordRobotsBlocked()
	RecordSummarizerFallback()
	SetQueueDepth(depth int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	jobs               *prometheus.CounterVec
	fetchLatency       *prometheus.HistogramVec
	httpStatus         *prometheus.CounterVec
	documentsSaved     prometheus.Counter
	retries            *prometheus.CounterVec
	robotsBlocked      prometheus.Counter
	summarizerFallback prometheus.Counter
	queueDepth         prometheus.Gauge
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedharvest_jobs_total",
			Help: "取得ジョブの結果別の合計数",
		}, []string{"kind", "status"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedharvest_fetch_latency_seconds",
			Help:    "取得処理1回あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedharvest_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		documentsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedharvest_documents_saved_total",
			Help: "保存されたドキュメントの合計数",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedharvest_fetch_retries_total",
			Help: "リトライされた取得の合計数",
		}, []string{"kind"}),
		robotsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedharvest_robots_blocked_total",
			Help: "robots.txtにより取得を見送った回数",
		}),
		summarizerFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedharvest_summarizer_fallback_total",
			Help: "要約サービス失敗時に簡易要約へ切り替えた回数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedharvest_queue_depth",
			Help: "待機中および実行中の取得ジョブ数",
		}),
	}

	reg.MustRegister(
		c.jobs,
		c.fetchLatency,
		c.httpStatus,
		c.documentsSaved,
		c.retries,
		c.robotsBlocked,
		c.summarizerFallback,
		c.queueDepth,
	)

	return c
}

// RecordJob はジョブの最終結果を記録する。
func (c *Collector) RecordJob(kind, status string) {
	c.jobs.WithLabelValues(kind, status).Inc()
}

// RecordFetchLatency は取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(kind string, duration time.Duration) {
	c.fetchLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordDocumentsSaved は保存されたドキュメント数を記録する。
func (c *Collector) RecordDocumentsSaved(count int) {
	c.documentsSaved.Add(float64(count))
}

// RecordRetry はリトライを記録する。
func (c *Collector) RecordRetry(kind string) {
	c.retries.WithLabelValues(kind).Inc()
}

// RecordRobotsBlocked はrobots.txtによる取得見送りを記録する。
func (c *Collector) RecordRobotsBlocked() {
	c.robotsBlocked.Inc()
}

// RecordSummarizerFallback は簡易要約への切り替えを記録する。
func (c *Collector) RecordSummarizerFallback() {
	c.summarizerFallback.Inc()
}

// SetQueueDepth はキューの深さを設定する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordJob(string, string) {}
func (Nop) RecordFetchLatency(string, time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordDocumentsSaved(int) {}
func (Nop) RecordRetry(string) {}
func (Nop) RecordRobotsBlocked() {}
func (Nop) RecordSummarizerFallback() {}
func (Nop) SetQueueDepth(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
