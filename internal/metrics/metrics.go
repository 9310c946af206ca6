package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "im"
	subsystem = "chat"
)

var (
	// MessagesSent 发送成功的私信数
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total private messages accepted",
		},
	)

	// MessageRoutes 投递路径: live | notification
	MessageRoutes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "message_routes_total",
			Help:      "Private messages by delivery route",
		},
		[]string{"route"},
	)

	// ReadReceipts 已读回执: source = buffer | store
	ReadReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "read_receipts_total",
			Help:      "Messages transitioned to read",
		},
		[]string{"source"},
	)

	// BufferFlushes 缓冲刷盘次数: result = success | error
	BufferFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffer_flushes_total",
			Help:      "Write-back buffer flush executions",
		},
		[]string{"result"},
	)

	// BufferFlushedMessages 刷入持久存储的消息数
	BufferFlushedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffer_flushed_messages_total",
			Help:      "Messages committed from the buffer to durable storage",
		},
	)

	// BufferFlushDuration 刷盘耗时
	BufferFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "buffer_flush_duration_seconds",
			Help:      "Write-back buffer flush duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// PendingFlushes 等待中的刷盘定时器
	PendingFlushes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_flushes",
			Help:      "Conversations with a pending flush timer",
		},
	)

	// ConnectedSessions 本节点 WebSocket 连接数
	ConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected_sessions",
			Help:      "WebSocket sessions connected to this node",
		},
	)

	// Notifications 通知处理结果: stored | dropped | pushed
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Notification router outcomes",
		},
		[]string{"result"},
	)

	// Events 入站事件处理结果
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Inbound realtime events by name and result",
		},
		[]string{"event", "result"},
	)

	// HTTPRequests HTTP 请求
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTPDuration HTTP 请求耗时
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)
