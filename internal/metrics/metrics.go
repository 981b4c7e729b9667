package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_rejected_total",
		Help: "Websocket connections closed during the handshake",
	}, []string{"reason"})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages relayed",
	})
	ConversationFlushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_conversation_flush_total",
		Help: "Conversation block flush attempts by result",
	}, []string{"result"})
	ConversationRetryQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_conversation_retry_queue",
		Help: "Conversation blocks waiting for another flush attempt",
	})
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_created_total",
		Help: "Total number of sessions issued",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsRejectedTotal, WsMessagesTotal,
		ConversationFlushTotal, ConversationRetryQueue, SessionsCreated,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			// 未匹配路由（静态文件、404）合并为一个标签，避免基数膨胀
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
