package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assessment"

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of HTTP requests by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Attempt submissions by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	eventsHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handled_total",
		Help:      "Event handler invocations by event name and result.",
	}, []string{"event", "result"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions with a running countdown in this process.",
	})
)

// ObserveSubmission counts one submission. trigger is "manual" or "timer".
func ObserveSubmission(trigger, outcome string) {
	submissionsTotal.WithLabelValues(trigger, outcome).Inc()
}

// ObserveEvent counts one handler invocation. result is "ok", "error" or "panic".
func ObserveEvent(name, result string) {
	eventsHandledTotal.WithLabelValues(name, result).Inc()
}

func SessionStarted() { activeSessions.Inc() }

func SessionStopped() { activeSessions.Dec() }

// GinMetrics records request latency labelled by the matched route template.
func GinMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		httpRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
