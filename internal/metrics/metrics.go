// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "qotd"

// Metrics набор коллекторов сервиса.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AnalyticsEvents     *prometheus.CounterVec
	BillingCalls        *prometheus.CounterVec
	WebhookEvents       *prometheus.CounterVec
	RateLimited         *prometheus.CounterVec
}

// New регистрирует коллекторы в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		AnalyticsEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_total",
			Help:      "Tracked analytics events by type.",
		}, []string{"type"}),
		BillingCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_calls_total",
			Help:      "Outbound billing provider calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Billing webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"rule"}),
	}
}

// NewNop возвращает коллекторы, не зарегистрированные ни в одном реестре.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
