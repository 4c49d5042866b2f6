package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome statuses used as the status label.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics collects application metrics.
type Metrics interface {
	RecordRequest(ctx context.Context, labels RequestLabels)
	RecordLatency(ctx context.Context, durationMs float64, labels RequestLabels)
	RecordRejection(ctx context.Context)
	ObserveProvider(ctx context.Context, state ProviderState)
}

// RequestLabels contains metric dimensions.
type RequestLabels struct {
	Provider string
	Status   string
}

// ProviderState is the windowed view of one provider exported as gauges.
type ProviderState struct {
	Provider            string
	RequestsLastMinute  int
	InFlight            int
	ErrorRateLastMinute float64
}

// PrometheusMetrics implements Metrics on a dedicated Prometheus registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rejections prometheus.Counter

	windowRequests *prometheus.GaugeVec
	inFlight       *prometheus.GaugeVec
	errorRate      *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collectors and registers them, together
// with the Go runtime and process collectors, on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ip_broker_provider_requests_total",
				Help: "Total number of dispatches per provider by outcome",
			},
			[]string{"provider", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ip_broker_provider_latency_milliseconds",
				Help:    "Dispatch latency in milliseconds per provider",
				Buckets: []float64{10, 25, 50, 100, 150, 200, 300, 500, 1000, 2500, 5000},
			},
			[]string{"provider", "status"},
		),
		rejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ip_broker_rejections_total",
				Help: "Requests rejected because every provider was at its limit",
			},
		),
		windowRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ip_broker_provider_requests_last_minute",
				Help: "Requests recorded for the provider in the last minute",
			},
			[]string{"provider"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ip_broker_provider_in_flight",
				Help: "Dispatches currently holding a reservation on the provider",
			},
			[]string{"provider"},
		),
		errorRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ip_broker_provider_error_rate_last_minute",
				Help: "Fraction of failed requests in the last minute",
			},
			[]string{"provider"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.rejections,
		m.windowRequests, m.inFlight, m.errorRate,
	)
	return m
}

// RecordRequest counts one completed dispatch by provider and status.
func (m *PrometheusMetrics) RecordRequest(_ context.Context, labels RequestLabels) {
	m.requests.WithLabelValues(labels.Provider, labels.Status).Inc()
}

// RecordLatency observes the dispatch duration in milliseconds.
func (m *PrometheusMetrics) RecordLatency(_ context.Context, durationMs float64, labels RequestLabels) {
	m.latency.WithLabelValues(labels.Provider, labels.Status).Observe(durationMs)
}

// RecordRejection counts a request no provider could admit.
func (m *PrometheusMetrics) RecordRejection(_ context.Context) {
	m.rejections.Inc()
}

// ObserveProvider sets the provider gauges from a fresh snapshot.
func (m *PrometheusMetrics) ObserveProvider(_ context.Context, state ProviderState) {
	m.windowRequests.WithLabelValues(state.Provider).Set(float64(state.RequestsLastMinute))
	m.inFlight.WithLabelValues(state.Provider).Set(float64(state.InFlight))
	m.errorRate.WithLabelValues(state.Provider).Set(state.ErrorRateLastMinute)
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NopMetrics discards everything.
type NopMetrics struct{}

// RecordRequest does nothing.
func (NopMetrics) RecordRequest(context.Context, RequestLabels) {}

// RecordLatency does nothing.
func (NopMetrics) RecordLatency(context.Context, float64, RequestLabels) {}

// RecordRejection does nothing.
func (NopMetrics) RecordRejection(context.Context) {}

// ObserveProvider does nothing.
func (NopMetrics) ObserveProvider(context.Context, ProviderState) {}
