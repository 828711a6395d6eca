// Package metrics exposes the narrow counter/gauge surface the listeners and the
// health registry emit into. The Prometheus implementation backs the optional
// /metrics endpoint; Nop is used when metrics are disabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the only metrics contract other packages depend on.
type Recorder interface {
	RequestReceived(kind, method string, contentLength int)
	ResponseSent(kind, method string, status int, elapsed time.Duration)
	HealthChecksRegistered(count int)
	ProbeFailed(key string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RequestReceived(string, string, int)             {}
func (Nop) ResponseSent(string, string, int, time.Duration) {}
func (Nop) HealthChecksRegistered(int)                      {}
func (Nop) ProbeFailed(string)                              {}

// Prometheus records observations into a private registry.
type Prometheus struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	requestBytes *prometheus.HistogramVec
	responses    *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	checks       prometheus.Gauge
	probeFails   *prometheus.CounterVec
}

// NewPrometheus registers the webgate collectors under namespace.
func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests received per listener kind and method.",
		}, []string{"listener", "method"}),
		requestBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_content_length_bytes",
			Help:      "Declared request content length.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"listener"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses sent per listener kind, method and status code.",
		}, []string{"listener", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_duration_seconds",
			Help:      "Time spent producing a response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"listener", "method"}),
		checks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_checks_registered",
			Help:      "Number of registered health probes.",
		}),
		probeFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probe_failures_total",
			Help:      "Probe outcomes recorded as false (error, panic or timeout).",
		}, []string{"check"}),
	}
	p.registry.MustRegister(p.requests, p.requestBytes, p.responses, p.latency, p.checks, p.probeFails)
	return p
}

// Registry exposes the underlying registry, mostly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the Prometheus text exposition of the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) RequestReceived(kind, method string, contentLength int) {
	p.requests.WithLabelValues(kind, method).Inc()
	if contentLength >= 0 {
		p.requestBytes.WithLabelValues(kind).Observe(float64(contentLength))
	}
}

func (p *Prometheus) ResponseSent(kind, method string, status int, elapsed time.Duration) {
	p.responses.WithLabelValues(kind, method, strconv.Itoa(status)).Inc()
	p.latency.WithLabelValues(kind, method).Observe(elapsed.Seconds())
}

func (p *Prometheus) HealthChecksRegistered(count int) {
	p.checks.Set(float64(count))
}

func (p *Prometheus) ProbeFailed(key string) {
	p.probeFails.WithLabelValues(key).Inc()
}
