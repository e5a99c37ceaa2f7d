// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーおよびオーケストレータ層から利用する。
type MetricsCollector interface {
	RecordRegistration(transportType string, created bool)
	RecordRegistrationFailure(transportType string, reason string)
	RecordRegistrationLatency(duration time.Duration)
	RecordUnsubscribe(transportType string)
	RecordPassThrough()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations   *prometheus.CounterVec
	registrationErr *prometheus.CounterVec
	latency         prometheus.Histogram
	unsubscribes    *prometheus.CounterVec
	passThrough     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "davpush_registrations_total",
			Help: "購読登録成功の合計数（トランスポート別・作成/更新別）",
		}, []string{"transport", "outcome"}),
		registrationErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "davpush_registration_failures_total",
			Help: "購読登録失敗の合計数（トランスポート別・理由別）",
		}, []string{"transport", "reason"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "davpush_registration_latency_seconds",
			Help:    "登録リクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		unsubscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "davpush_unsubscribes_total",
			Help: "購読解除の合計数（トランスポート別）",
		}, []string{"transport"}),
		passThrough: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "davpush_pass_through_total",
			Help: "登録リクエストとして扱わず後続ハンドラーへ委譲した数",
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.registrationErr,
		c.latency,
		c.unsubscribes,
		c.passThrough,
	)

	return c
}

// RecordRegistration は登録成功を記録する。
func (c *Collector) RecordRegistration(transportType string, created bool) {
	outcome := "updated"
	if created {
		outcome = "created"
	}
	c.registrations.WithLabelValues(transportType, outcome).Inc()
}

// RecordRegistrationFailure は登録失敗を記録する。
// transportTypeは登録済みタイプ・"unknown"・空文字列（パース前の失敗）のいずれかで、
// 呼び出し側が丸めてから渡す。任意の文字列をラベルにしてはならない。
func (c *Collector) RecordRegistrationFailure(transportType string, reason string) {
	c.registrationErr.WithLabelValues(transportType, reason).Inc()
}

// RecordRegistrationLatency は登録リクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRegistrationLatency(duration time.Duration) {
	c.latency.Observe(duration.Seconds())
}

// RecordUnsubscribe は購読解除を記録する。
func (c *Collector) RecordUnsubscribe(transportType string) {
	c.unsubscribes.WithLabelValues(transportType).Inc()
}

// RecordPassThrough は後続ハンドラーへの委譲を記録する。
func (c *Collector) RecordPassThrough() {
	c.passThrough.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
