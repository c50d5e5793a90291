// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲート、ハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	RecordGateDecision(state string, allowed bool)
	RecordAuthEvent(eventType string)
	RecordProfileCompletion(result string)
	RecordUsernameCheck(available bool)
	RecordSignOutFailure()
	RecordRateLimited(limitType string)
	RecordUpload(backend string, err error, duration time.Duration)
	RecordSessionsCleaned(count int64)
	WebSocketOpened()
	WebSocketClosed()
}

// プロフィール登録の結果ラベル
const (
	ProfileResultCreated  = "created"
	ProfileResultRejected = "rejected"
	ProfileResultFailed   = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gateDecisions      *prometheus.CounterVec
	authEvents         *prometheus.CounterVec
	profileCompletions *prometheus.CounterVec
	usernameChecks     *prometheus.CounterVec
	signOutFailures    prometheus.Counter
	rateLimited        *prometheus.CounterVec
	uploads            *prometheus.CounterVec
	uploadLatency      prometheus.Histogram
	sessionsCleaned    prometheus.Counter
	wsConnections      prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorlink_gate_decisions_total",
			Help: "状態・結果別のゲート判定数",
		}, []string{"state", "outcome"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorlink_auth_events_total",
			Help: "種別ごとの認証イベント数",
		}, []string{"type"}),
		profileCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorlink_profile_completions_total",
			Help: "結果別のプロフィール登録数",
		}, []string{"result"}),
		usernameChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorlink_username_checks_total",
			Help: "ユーザー名の空き確認数",
		}, []string{"result"}),
		signOutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creatorlink_signout_failures_total",
			Help: "ローカルのみで完了したサインアウト数",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorlink_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}, []string{"type"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorlink_uploads_total",
			Help: "バックエンド・結果別の画像アップロード数",
		}, []string{"backend", "result"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "creatorlink_upload_latency_seconds",
			Help:    "画像アップロードのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creatorlink_sessions_cleaned_total",
			Help: "ワーカーが削除した期限切れセッション数",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "creatorlink_websocket_connections",
			Help: "接続中の認証イベントWebSocket数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creatorlink_http_requests_total",
			Help: "ステータスコード・メソッド別のHTTPリクエスト数",
		}, []string{"code", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "creatorlink_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.authEvents,
		c.profileCompletions,
		c.usernameChecks,
		c.signOutFailures,
		c.rateLimited,
		c.uploads,
		c.uploadLatency,
		c.sessionsCleaned,
		c.wsConnections,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordGateDecision はゲートの判定を記録する。
func (c *Collector) RecordGateDecision(state string, allowed bool) {
	outcome := "redirect"
	if allowed {
		outcome = "allow"
	}
	c.gateDecisions.WithLabelValues(state, outcome).Inc()
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(eventType string) {
	c.authEvents.WithLabelValues(eventType).Inc()
}

// RecordProfileCompletion はプロフィール登録の結果を記録する。
func (c *Collector) RecordProfileCompletion(result string) {
	c.profileCompletions.WithLabelValues(result).Inc()
}

// RecordUsernameCheck はユーザー名の空き確認を記録する。
func (c *Collector) RecordUsernameCheck(available bool) {
	result := "taken"
	if available {
		result = "available"
	}
	c.usernameChecks.WithLabelValues(result).Inc()
}

// RecordSignOutFailure はリモートのサインアウト失敗を記録する。
func (c *Collector) RecordSignOutFailure() {
	c.signOutFailures.Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// RecordUpload は画像アップロードの結果とレイテンシを記録する。
func (c *Collector) RecordUpload(backend string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.uploads.WithLabelValues(backend, result).Inc()
	c.uploadLatency.Observe(duration.Seconds())
}

// RecordSessionsCleaned は削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// WebSocketOpened は接続数を増やす。
func (c *Collector) WebSocketOpened() {
	c.wsConnections.Inc()
}

// WebSocketClosed は接続数を減らす。
func (c *Collector) WebSocketClosed() {
	c.wsConnections.Dec()
}

// InstrumentHandler はHTTPリクエスト数と処理時間を記録するミドルウェア。
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(c.httpLatency,
		promhttp.InstrumentHandlerCounter(c.httpRequests, next),
	)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しない実装。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordGateDecision(string, bool) {}
func (NopCollector) RecordAuthEvent(string) {}
func (NopCollector) RecordProfileCompletion(string) {}
func (NopCollector) RecordUsernameCheck(bool) {}
func (NopCollector) RecordSignOutFailure() {}
func (NopCollector) RecordRateLimited(string) {}
func (NopCollector) RecordUpload(string, error, time.Duration) {}
func (NopCollector) RecordSessionsCleaned(int64) {}
func (NopCollector) WebSocketOpened() {}
func (NopCollector) WebSocketClosed() {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
