package monitoring

import (
	"strconv"
	"time"

	"audiocast/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records session and assignment outcomes. It satisfies
// ports.MetricsRecorder.
type PrometheusCollector struct {
	sessionsCreated     prometheus.Counter
	sessionsDeleted     prometheus.Counter
	sessionsInvalidated *prometheus.CounterVec
	validations         *prometheus.CounterVec
	assignments         *prometheus.CounterVec

	activeSessions prometheus.Gauge
	totalSessions  prometheus.Gauge
	uniqueIPs      prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	wsClients    prometheus.Gauge
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collectors on reg, or on the default
// registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiocast_sessions_created_total",
			Help: "Total number of subscriber sessions created",
		}),

		sessionsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiocast_sessions_deleted_total",
			Help: "Total number of subscriber sessions deleted",
		}),

		sessionsInvalidated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocast_sessions_invalidated_total",
			Help: "Forced sign-outs by detection path",
		}, []string{"reason"}),

		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocast_session_validations_total",
			Help: "Session validation results",
		}, []string{"outcome"}),

		assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocast_assignment_outcomes_total",
			Help: "Permission edge writes by operation and outcome",
		}, []string{"operation", "outcome"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiocast_sessions_active",
			Help: "Sessions with recent activity",
		}),

		totalSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiocast_sessions_total",
			Help: "Stored subscriber sessions",
		}),

		uniqueIPs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiocast_sessions_unique_ips",
			Help: "Distinct addresses across stored sessions",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocast_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiocast_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),

		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audiocast_push_clients",
			Help: "Connected subscriber push clients",
		}),
	}
}

func (p *PrometheusCollector) SessionCreated() {
	p.sessionsCreated.Inc()
}

func (p *PrometheusCollector) SessionDeleted() {
	p.sessionsDeleted.Inc()
}

func (p *PrometheusCollector) SessionInvalidated(reason string) {
	p.sessionsInvalidated.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SessionValidated(outcome string) {
	p.validations.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) AssignmentOutcome(operation, outcome string, count int) {
	if count <= 0 {
		return
	}
	p.assignments.WithLabelValues(operation, outcome).Add(float64(count))
}

// UpdateSessionSummary mirrors the monitoring summary into gauges.
func (p *PrometheusCollector) UpdateSessionSummary(active, total, uniqueIPs int) {
	p.activeSessions.Set(float64(active))
	p.totalSessions.Set(float64(total))
	p.uniqueIPs.Set(float64(uniqueIPs))
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *PrometheusCollector) PushClientConnected() {
	p.wsClients.Inc()
}

func (p *PrometheusCollector) PushClientDisconnected() {
	p.wsClients.Dec()
}
