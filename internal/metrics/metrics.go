// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voicechat_ws_connections",
		Help: "Current number of live websocket connections",
	})
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicechat_events_total",
		Help: "Inbound events by name and outcome",
	}, []string{"event", "outcome"})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicechat_messages_total",
		Help: "Total number of chat messages persisted and broadcast",
	})
	AudioFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicechat_audio_frames_total",
		Help: "Inbound audio frames by pipeline outcome",
	}, []string{"outcome"})
	AudioQueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicechat_audio_queue_dropped_total",
		Help: "Audio frames dropped because a sender's queue was full",
	})
	OutboundDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicechat_outbound_dropped_total",
		Help: "Outbound frames dropped because a receiver's send queue was full",
	}, []string{"kind"})
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

// Audio frame outcomes.
const (
	OutcomeForwarded  = "forwarded"
	OutcomeSuppressed = "suppressed"
	OutcomeSilence    = "silence"
	OutcomeError      = "error"
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		EventsTotal,
		MessagesTotal,
		AudioFramesTotal,
		AudioQueueDropped,
		OutboundDropped,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware records request counts and latencies.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
