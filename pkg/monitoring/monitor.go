package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// ProgressEvents 按结果统计进度上报：synced / buffered / rejected
	ProgressEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_events_total",
			Help: "Lesson progress events by outcome",
		},
		[]string{"outcome"},
	)

	OfflineQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "progress_offline_queue_depth",
			Help: "Number of progress updates waiting for sync",
		},
	)

	SyncReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_sync_replays_total",
			Help: "Offline queue entries replayed against the backend",
		},
		[]string{"result"},
	)

	ConnectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "progress_backend_online",
			Help: "1 when the backend is reachable",
		},
	)

	CertificatesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certificates_issued_total",
			Help: "Certificates issued for completed courses",
		},
	)

	// StatusStreamClients 连接到进度代理状态推送的 WebSocket 客户端数
	StatusStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "progress_status_stream_clients",
			Help: "Connected status stream WebSocket clients",
		},
	)

	initOnce sync.Once
)

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			ProgressEvents,
			OfflineQueueDepth,
			SyncReplays,
			ConnectivityOnline,
			CertificatesIssued,
			StatusStreamClients,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
