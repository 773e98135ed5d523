package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatquota"

// PrometheusRecorder implements Recorder on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	chatAdmitted     prometheus.Counter
	chatRejected     *prometheus.CounterVec
	accrualFailures  prometheus.Counter
	minutesAccrued   prometheus.Counter
	upstreamDuration prometheus.Histogram
	upstreamFailures *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
}

// NewPrometheus creates a recorder with Go runtime and process collectors
// registered alongside the application metrics.
func NewPrometheus() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		chatAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_admitted_total",
			Help:      "Chat requests admitted past the quota check",
		}),
		chatRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_rejected_total",
			Help:      "Chat requests rejected before the upstream call",
		}, []string{"reason"}),
		accrualFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_failures_total",
			Help:      "Successful chats whose usage could not be recorded",
		}),
		minutesAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "minutes_accrued_total",
			Help:      "Estimated minutes accrued across all users",
		}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream completion latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Upstream calls that did not succeed, by status",
		}, []string{"status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.chatAdmitted,
		p.chatRejected,
		p.accrualFailures,
		p.minutesAccrued,
		p.upstreamDuration,
		p.upstreamFailures,
		p.httpDuration,
		p.httpRequests,
	)
	return p
}

// Registry returns the recorder's registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// IncChatAdmitted increments the admitted counter.
func (p *PrometheusRecorder) IncChatAdmitted() {
	p.chatAdmitted.Inc()
}

// IncChatRejected increments the rejection counter for reason.
func (p *PrometheusRecorder) IncChatRejected(reason string) {
	p.chatRejected.WithLabelValues(reason).Inc()
}

// IncAccrualFailure increments the accrual failure counter.
func (p *PrometheusRecorder) IncAccrualFailure() {
	p.accrualFailures.Inc()
}

// AddMinutesAccrued adds to the accrued minutes total.
func (p *PrometheusRecorder) AddMinutesAccrued(minutes float64) {
	if minutes > 0 {
		p.minutesAccrued.Add(minutes)
	}
}

// ObserveUpstreamDuration records upstream latency.
func (p *PrometheusRecorder) ObserveUpstreamDuration(duration time.Duration) {
	p.upstreamDuration.Observe(duration.Seconds())
}

// IncUpstreamFailure counts a failed upstream call by status.
func (p *PrometheusRecorder) IncUpstreamFailure(status int) {
	p.upstreamFailures.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveHTTPRequest records one served request.
func (p *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	p.httpDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	p.httpRequests.WithLabelValues(method, route, code).Inc()
}
