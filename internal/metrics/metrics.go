// Package metrics holds the gateway's Prometheus collectors. They are
// registered with the default registry by Init and scraped through Handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Retry outcomes recorded in PrefixRetries.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
)

var (
	// RequestsTotal counts proxied requests by matched route, method and status.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"route", "method", "status"})

	// RequestDuration observes proxied request latency in seconds.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Number of in-flight requests currently being processed",
	})

	RateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_hits_total",
		Help:      "Total rate limit rejections",
	}, []string{"route"})

	AuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Total authentication failures",
	}, []string{"reason"})

	// PrefixRetries counts unmatched requests that were re-dispatched under
	// the fallback prefix, by OutcomeResolved or OutcomeFailed.
	PrefixRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefix",
		Name:      "retries_total",
		Help:      "Total unmatched requests retried under the fallback prefix",
	}, []string{"outcome"})
)

var initOnce sync.Once

// Init registers Collectors with the default registry. Only the first call
// registers, so rebuilding the gateway on reload is safe.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
}

// Collectors returns every collector owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		ActiveConnections,
		RateLimitHits,
		AuthFailures,
		PrefixRetries,
	}
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
