// Package metrics collects client-side Prometheus metrics for the request
// pipeline and the session manager.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the pipeline and session manager report to.
type Recorder interface {
	RecordRequest(method string, statusCode int, duration time.Duration)
	RecordTransportError(timeout bool)
	RecordForcedLogout()
	RecordLogin(outcome string)
}

// Login outcomes.
const (
	LoginSuccess   = "success"
	LoginFailure   = "failure"
	LoginIgnored   = "ignored"
	LoginDiscarded = "discarded"
)

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	requests        *prometheus.CounterVec
	latency         prometheus.Histogram
	transportErrors *prometheus.CounterVec
	forcedLogouts   prometheus.Counter
	logins          *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classdesk_client_requests_total",
			Help: "Backend requests by method and status code.",
		}, []string{"method", "status_code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classdesk_client_request_duration_seconds",
			Help:    "Backend request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classdesk_client_transport_errors_total",
			Help: "Requests that produced no response.",
		}, []string{"timeout"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classdesk_client_forced_logouts_total",
			Help: "Sessions cleared after a 401/403 response.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classdesk_client_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(c.requests, c.latency, c.transportErrors, c.forcedLogouts, c.logins)
	return c
}

func (c *Collector) RecordRequest(method string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.latency.Observe(duration.Seconds())
}

func (c *Collector) RecordTransportError(timeout bool) {
	c.transportErrors.WithLabelValues(strconv.FormatBool(timeout)).Inc()
}

func (c *Collector) RecordForcedLogout() {
	c.forcedLogouts.Inc()
}

func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRequest(string, int, time.Duration) {}
func (Nop) RecordTransportError(bool) {}
func (Nop) RecordForcedLogout() {}
func (Nop) RecordLogin(string) {}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
