// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// DNSプロバイダークライアント、プロビジョニングサービス、監査ワーカーから利用する。
type MetricsCollector interface {
	RecordProviderRequest(operation, outcome string, duration time.Duration)
	RecordProvisioning(operation, result string)
	SetDriftRecords(kind string, count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	provisioning     *prometheus.CounterVec
	driftRecords     *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainman_provider_requests_total",
			Help: "DNSプロバイダーAPI呼び出しの合計数",
		}, []string{"operation", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "domainman_provider_latency_seconds",
			Help:    "DNSプロバイダーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domainman_provisioning_total",
			Help: "サブドメイン操作の結果別合計数",
		}, []string{"operation", "result"}),
		driftRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "domainman_drift_records",
			Help: "直近の監査で検出したDBとDNSの不整合件数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.providerRequests,
		c.providerLatency,
		c.provisioning,
		c.driftRecords,
	)

	return c
}

// RecordProviderRequest はプロバイダーAPI呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderRequest(operation, outcome string, duration time.Duration) {
	c.providerRequests.WithLabelValues(operation, outcome).Inc()
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProvisioning はサブドメイン操作の結果を記録する。
func (c *Collector) RecordProvisioning(operation, result string) {
	c.provisioning.WithLabelValues(operation, result).Inc()
}

// SetDriftRecords は種別ごとの不整合件数を設定する。
func (c *Collector) SetDriftRecords(kind string, count int) {
	c.driftRecords.WithLabelValues(kind).Set(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクス不要なテストやツールで使う。
type Nop struct{}

func (Nop) RecordProviderRequest(string, string, time.Duration) {}
func (Nop) RecordProvisioning(string, string)                   {}
func (Nop) SetDriftRecords(string, int)                         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
