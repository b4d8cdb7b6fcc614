package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 轮询引擎指标
	PollCyclesTotal    *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	MessagesScanned    prometheus.Counter
	MessagesSkipped    prometheus.Counter
	EngineBackoff      prometheus.Gauge
	EngineState        prometheus.Gauge
	WatermarkSeq       prometheus.Gauge
	ExtractorDuration  prometheus.Histogram

	// 业务指标
	PaymentDecisions  *prometheus.CounterVec
	TopupsCreated     prometheus.Counter
	TopupsExpired     prometheus.Counter
	CoinsCredited     prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// 引擎状态的数值编码，用于 EngineState gauge
const (
	EngineStateIdle       = 0
	EngineStateConnecting = 1
	EngineStateScanning   = 2
	EngineStateBackoff    = 3
)

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinup_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coinup_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		PollCyclesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinup_poll_cycles_total",
				Help: "Total number of mailbox poll cycles by outcome",
			},
			[]string{"outcome"},
		),

		ScanDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coinup_scan_duration_seconds",
				Help:    "Mailbox scan cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		MessagesScanned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coinup_messages_scanned_total",
				Help: "Total number of mailbox messages inspected",
			},
		),

		MessagesSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coinup_messages_skipped_total",
				Help: "Total number of messages skipped by the processed-marker set",
			},
		),

		EngineBackoff: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinup_engine_backoff_seconds",
				Help: "Current poll loop backoff delay in seconds",
			},
		),

		EngineState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinup_engine_state",
				Help: "Poll loop state (0=idle, 1=connecting, 2=scanning, 3=backoff)",
			},
		),

		WatermarkSeq: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coinup_watermark_seq",
				Help: "Current mailbox watermark sequence id",
			},
		),

		ExtractorDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coinup_extractor_duration_seconds",
				Help:    "External extractor call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		PaymentDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinup_payment_decisions_total",
				Help: "Total number of payment email decisions by outcome",
			},
			[]string{"decision"},
		),

		TopupsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coinup_topups_created_total",
				Help: "Total number of topup requests created",
			},
		),

		TopupsExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coinup_topups_expired_total",
				Help: "Total number of topup requests expired",
			},
		),

		CoinsCredited: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coinup_coins_credited_total",
				Help: "Total number of coins credited to user balances",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinup_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coinup_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinup_rate_limit_blocks_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPollCycle 记录一次轮询结果
func (m *Metrics) RecordPollCycle(outcome string, duration time.Duration) {
	m.PollCyclesTotal.WithLabelValues(outcome).Inc()
	m.ScanDuration.Observe(duration.Seconds())
}

// RecordDecision 记录一次付款判定
func (m *Metrics) RecordDecision(decision string) {
	m.PaymentDecisions.WithLabelValues(decision).Inc()
}

// RecordCredit 记录一次入账
func (m *Metrics) RecordCredit(amount int64) {
	m.CoinsCredited.Add(float64(amount))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
