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
// リコンサイラー、ガード、サービス層、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthEvent(kind string)
	RecordReconcileWrite(source string)
	RecordStaleWriteDropped(source string)
	RecordSubscribeRetry()
	SetMountedClients(n int)
	RecordGuardDecision(decision string)
	RecordProvisioningFailure(step string)
	RecordPayment(status string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents      *prometheus.CounterVec
	reconcileWrites *prometheus.CounterVec
	staleDropped    *prometheus.CounterVec
	subscribeRetry  prometheus.Counter
	mountedClients  prometheus.Gauge
	guardDecisions  *prometheus.CounterVec
	provisionFail   *prometheus.CounterVec
	payments        *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtucalls_auth_events_total",
			Help: "受信した認証状態変化イベントの数（種別ごと）",
		}, []string{"kind"}),
		reconcileWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtucalls_reconcile_writes_total",
			Help: "リコンサイラーによるセッションストアへの書き込み数（push/pull別）",
		}, []string{"source"}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtucalls_reconcile_stale_dropped_total",
			Help: "より新しいイベントがあったため破棄された書き込みの数",
		}, []string{"source"}),
		subscribeRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "virtucalls_subscribe_retries_total",
			Help: "認証イベント購読の再試行回数",
		}),
		mountedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "virtucalls_mounted_clients",
			Help: "マウント中のクライアントセッション数",
		}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtucalls_guard_decisions_total",
			Help: "アクセスガードの判定結果の数",
		}, []string{"decision"}),
		provisionFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtucalls_provisioning_failures_total",
			Help: "サインアップ後の補助レコード初期化の失敗数（ステップ別）",
		}, []string{"step"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtucalls_payments_total",
			Help: "決済の結果別件数",
		}, []string{"status"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "virtucalls_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "virtucalls_request_latency_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authEvents,
		c.reconcileWrites,
		c.staleDropped,
		c.subscribeRetry,
		c.mountedClients,
		c.guardDecisions,
		c.provisionFail,
		c.payments,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAuthEvent は認証イベントの受信を記録する。
func (c *Collector) RecordAuthEvent(kind string) {
	c.authEvents.WithLabelValues(kind).Inc()
}

// RecordReconcileWrite はリコンサイラーの書き込みを記録する。
func (c *Collector) RecordReconcileWrite(source string) {
	c.reconcileWrites.WithLabelValues(source).Inc()
}

// RecordStaleWriteDropped は破棄した古い書き込みを記録する。
func (c *Collector) RecordStaleWriteDropped(source string) {
	c.staleDropped.WithLabelValues(source).Inc()
}

// RecordSubscribeRetry は購読の再試行を記録する。
func (c *Collector) RecordSubscribeRetry() {
	c.subscribeRetry.Inc()
}

// SetMountedClients はマウント中のクライアント数を設定する。
func (c *Collector) SetMountedClients(n int) {
	c.mountedClients.Set(float64(n))
}

// RecordGuardDecision はアクセスガードの判定を記録する。
func (c *Collector) RecordGuardDecision(decision string) {
	c.guardDecisions.WithLabelValues(decision).Inc()
}

// RecordProvisioningFailure はプロビジョニングの失敗を記録する。
func (c *Collector) RecordProvisioningFailure(step string) {
	c.provisionFail.WithLabelValues(step).Inc()
}

// RecordPayment は決済結果を記録する。
func (c *Collector) RecordPayment(status string) {
	c.payments.WithLabelValues(status).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordAuthEvent(string) {}

func (NopCollector) RecordReconcileWrite(string) {}

func (NopCollector) RecordStaleWriteDropped(string) {}

func (NopCollector) RecordSubscribeRetry() {}

func (NopCollector) SetMountedClients(int) {}

func (NopCollector) RecordGuardDecision(string) {}

func (NopCollector) RecordProvisioningFailure(string) {}

func (NopCollector) RecordPayment(string) {}

func (NopCollector) RecordHTTPStatus(int) {}

func (NopCollector) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Middleware はレスポンスのステータスコードと処理時間を記録するHTTPミドルウェアを返す。
func Middleware(collector MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			collector.RecordHTTPStatus(rec.status)
			collector.RecordRequestLatency(time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
