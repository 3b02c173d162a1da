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
	HTTPResponseSize    *prometheus.HistogramVec

	// SMTP 指标
	SMTPConnectionsActive prometheus.Gauge
	SMTPConnectionsTotal  prometheus.Counter
	SMTPDeliveriesTotal   *prometheus.CounterVec
	SMTPRejectionsTotal   *prometheus.CounterVec

	// 收件指标
	IngestDuration   prometheus.Histogram
	MessageRawSize   prometheus.Histogram
	AttachmentsSaved prometheus.Counter
	AttachmentSize   prometheus.Histogram

	// 清扫指标
	OrphanBlobsRemoved prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标，全部注册到默认注册表。
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devinbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devinbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devinbox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		SMTPConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "devinbox_smtp_connections_active",
				Help: "Number of active SMTP connections",
			},
		),

		SMTPConnectionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "devinbox_smtp_connections_total",
				Help: "Total number of SMTP connections accepted",
			},
		),

		SMTPDeliveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devinbox_smtp_deliveries_total",
				Help: "Total number of SMTP deliveries by outcome",
			},
			[]string{"outcome"},
		),

		SMTPRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devinbox_smtp_rejections_total",
				Help: "Total number of rejected RCPT commands by reason",
			},
			[]string{"reason"},
		),

		IngestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devinbox_ingest_duration_seconds",
				Help:    "Time spent parsing and persisting one message",
				Buckets: prometheus.DefBuckets,
			},
		),

		MessageRawSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devinbox_message_raw_size_bytes",
				Help:    "Raw message size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		AttachmentsSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "devinbox_attachments_saved_total",
				Help: "Total number of attachment blobs written",
			},
		),

		AttachmentSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devinbox_attachment_size_bytes",
				Help:    "Attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
			},
		),

		OrphanBlobsRemoved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "devinbox_orphan_blobs_removed_total",
				Help: "Total number of orphaned attachment files removed by the sweeper",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devinbox_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "devinbox_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// ConnectionOpened 记录一条新 SMTP 连接
func (m *Metrics) ConnectionOpened() {
	m.SMTPConnectionsTotal.Inc()
	m.SMTPConnectionsActive.Inc()
}

// ConnectionClosed 记录 SMTP 连接关闭
func (m *Metrics) ConnectionClosed() {
	m.SMTPConnectionsActive.Dec()
}

// RecordDelivery 按结果记录一次投递，outcome 取 accepted/malformed/storage_error
func (m *Metrics) RecordDelivery(outcome string) {
	m.SMTPDeliveriesTotal.WithLabelValues(outcome).Inc()
}

// RecordRejection 按原因记录一次 RCPT 拒绝，
// reason 取 foreign_domain/unknown_project/invalid_slug/mixed_projects
func (m *Metrics) RecordRejection(reason string) {
	m.SMTPRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordIngest 记录一次成功落地的耗时与大小
func (m *Metrics) RecordIngest(duration time.Duration, rawSize int64) {
	m.IngestDuration.Observe(duration.Seconds())
	m.MessageRawSize.Observe(float64(rawSize))
}

// RecordAttachment 记录写盘的附件
func (m *Metrics) RecordAttachment(size int64) {
	m.AttachmentsSaved.Inc()
	m.AttachmentSize.Observe(float64(size))
}

// RecordOrphanRemoved 记录清扫掉的孤儿附件文件
func (m *Metrics) RecordOrphanRemoved() {
	m.OrphanBlobsRemoved.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
