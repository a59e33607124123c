// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// フィード処理結果のラベル値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// RSS取り込みワーカーから利用する。
type MetricsCollector interface {
	RecordFeedProcessed(result string)
	RecordItemsSeen(count int)
	RecordArticlesAdded(count int)
	RecordDuplicate()
	RecordItemFailed()
	RecordFetchRetry()
	RecordHTTPStatus(statusCode int)
	RecordFeedLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	feedsProcessed *prometheus.CounterVec
	itemsSeen      prometheus.Counter
	articlesAdded  prometheus.Counter
	duplicates     prometheus.Counter
	itemsFailed    prometheus.Counter
	fetchRetries   prometheus.Counter
	httpStatus     *prometheus.CounterVec
	feedLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		feedsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thainews_rss_feeds_processed_total",
			Help: "処理したフィード数（結果別）",
		}, []string{"result"}),
		itemsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thainews_rss_items_seen_total",
			Help: "フィードから取得した記事候補の合計数",
		}),
		articlesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thainews_rss_articles_added_total",
			Help: "新規に保存した記事の合計数",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thainews_rss_duplicates_total",
			Help: "重複として除外した記事候補の合計数",
		}),
		itemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thainews_rss_items_failed_total",
			Help: "処理に失敗した記事候補の合計数",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thainews_rss_fetch_retries_total",
			Help: "フィード取得のリトライ回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thainews_rss_http_status_total",
			Help: "フィード取得時のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		feedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "thainews_rss_feed_duration_seconds",
			Help:    "1フィードの処理時間（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
	}

	reg.MustRegister(
		c.feedsProcessed,
		c.itemsSeen,
		c.articlesAdded,
		c.duplicates,
		c.itemsFailed,
		c.fetchRetries,
		c.httpStatus,
		c.feedLatency,
	)

	return c
}

// RecordFeedProcessed はフィード処理の完了を結果別に記録する。
func (c *Collector) RecordFeedProcessed(result string) {
	c.feedsProcessed.WithLabelValues(result).Inc()
}

// RecordItemsSeen はフィードから取得した記事候補数を記録する。
func (c *Collector) RecordItemsSeen(count int) {
	c.itemsSeen.Add(float64(count))
}

// RecordArticlesAdded は新規保存した記事数を記録する。
func (c *Collector) RecordArticlesAdded(count int) {
	c.articlesAdded.Add(float64(count))
}

// RecordDuplicate は重複除外を記録する。
func (c *Collector) RecordDuplicate() {
	c.duplicates.Inc()
}

// RecordItemFailed は記事候補の処理失敗を記録する。
func (c *Collector) RecordItemFailed() {
	c.itemsFailed.Inc()
}

// RecordFetchRetry はフィード取得のリトライを記録する。
func (c *Collector) RecordFetchRetry() {
	c.fetchRetries.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFeedLatency は1フィードの処理時間を記録する。
func (c *Collector) RecordFeedLatency(duration time.Duration) {
	c.feedLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
