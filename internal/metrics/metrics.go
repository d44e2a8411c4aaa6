// Package metrics exposes the engine's Prometheus instruments. Components call
// the helper functions; the HTTP server serves Handler on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoforwardx"

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Queue task outcomes by result",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Latency of platform send calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform", "result"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Latency of account health probes",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform", "result"},
	)

	sessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Account status transitions by platform and new status",
		},
		[]string{"platform", "status"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_tasks",
			Help:      "Tasks waiting across all pair queues",
		},
	)

	overdueTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_overdue_tasks",
			Help:      "Queued tasks still undelivered well past their scheduled time",
		},
	)

	throttleWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting on per-account send buckets",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 3, 10, 30, 60},
		},
	)

	policyDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denials_total",
			Help:      "Plan policy denials by gate",
		},
		[]string{"gate"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published by type",
		},
		[]string{"type"},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because a subscriber buffer was full",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Delivery outcomes.
const (
	OutcomeDelivered   = "delivered"
	OutcomeRetried     = "retried"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailed      = "failed"
	OutcomeFiltered    = "filtered"
	OutcomeDenied      = "denied"
	OutcomeCancelled   = "cancelled"
)

// RecordDelivery counts a task outcome.
func RecordDelivery(outcome string) {
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSend records a platform send latency.
func ObserveSend(platform string, d time.Duration, err error) {
	sendDuration.WithLabelValues(platform, result(err)).Observe(d.Seconds())
}

// ObserveProbe records a health probe latency.
func ObserveProbe(platform string, d time.Duration, err error) {
	probeDuration.WithLabelValues(platform, result(err)).Observe(d.Seconds())
}

// RecordSessionTransition counts an account status change.
func RecordSessionTransition(platform, status string) {
	sessionTransitions.WithLabelValues(platform, status).Inc()
}

// AddQueueDepth moves the pending-task gauge by delta.
func AddQueueDepth(delta int) {
	queueDepth.Add(float64(delta))
}

// SetOverdueTasks reports the latest backlog check.
func SetOverdueTasks(n int) {
	overdueTasks.Set(float64(n))
}

// ObserveThrottleWait records time spent waiting for send capacity.
func ObserveThrottleWait(d time.Duration) {
	throttleWait.Observe(d.Seconds())
}

// RecordPolicyDenial counts a denial by gate name.
func RecordPolicyDenial(gate string) {
	policyDenials.WithLabelValues(gate).Inc()
}

// RecordEventPublished counts a published event.
func RecordEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts an event lost to a full subscriber buffer.
func RecordEventDropped() {
	eventsDropped.Inc()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
