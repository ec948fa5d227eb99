package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "memoriam"

// Metrics contains the service-level metrics shared by the compiler, the
// mutation pipeline and the hook dispatcher.
type Metrics struct {
	QueriesTotal     *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	CompileErrors    *prometheus.CounterVec
	MutationsTotal   *prometheus.CounterVec
	HookCallsTotal   *prometheus.CounterVec
	HookCallDuration *prometheus.HistogramVec
	AuditRecords     *prometheus.CounterVec
	VersionStamps    *prometheus.CounterVec
	SchemaRebuilds   *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	BackendUp        prometheus.Gauge
	NATSConnected    prometheus.Gauge
}

// NewMetrics creates the core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "executed_total",
				Help:      "Compiled queries submitted to the backend",
			},
			[]string{"kind", "status"},
		),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Backend query round trip in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		CompileErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "compile_errors_total",
				Help:      "Requests rejected while compiling",
			},
			[]string{"kind"},
		),

		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mutation",
				Name:      "total",
				Help:      "Mutations by operation and outcome",
			},
			[]string{"operation", "status"},
		),

		HookCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hook",
				Name:      "calls_total",
				Help:      "Hook listener calls by phase and outcome",
			},
			[]string{"phase", "status"},
		),

		HookCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "hook",
				Name:      "call_duration_seconds",
				Help:      "Hook listener round trip in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),

		AuditRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "records_total",
				Help:      "Audit records written by operation",
			},
			[]string{"operation"},
		),

		VersionStamps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "version_stamps_total",
				Help:      "Deferred version stamps by outcome (stamped, aborted, timeout, error)",
			},
			[]string{"outcome"},
		),

		SchemaRebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "schema",
				Name:      "rebuilds_total",
				Help:      "Domain schema rebuilds",
			},
			[]string{"status"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route pattern and status code",
			},
			[]string{"route", "code"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request handling time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		BackendUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "up",
				Help:      "Backend reachability (1 = reachable)",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (1 = connected)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QueriesTotal,
		m.QueryDuration,
		m.CompileErrors,
		m.MutationsTotal,
		m.HookCallsTotal,
		m.HookCallDuration,
		m.AuditRecords,
		m.VersionStamps,
		m.SchemaRebuilds,
		m.HTTPRequests,
		m.HTTPDuration,
		m.BackendUp,
		m.NATSConnected,
	}
}

// RecordQuery records one backend query
func (m *Metrics) RecordQuery(kind string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(kind, status(err)).Inc()
	m.QueryDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCompileError records a request rejected by the compiler
func (m *Metrics) RecordCompileError(kind string) {
	if m == nil {
		return
	}
	m.CompileErrors.WithLabelValues(kind).Inc()
}

// RecordMutation records one mutation outcome
func (m *Metrics) RecordMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(operation, status(err)).Inc()
}

// RecordHookCall records one listener call
func (m *Metrics) RecordHookCall(phase string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.HookCallsTotal.WithLabelValues(phase, status(err)).Inc()
	m.HookCallDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordAudit records one audit record write
func (m *Metrics) RecordAudit(operation string) {
	if m == nil {
		return
	}
	m.AuditRecords.WithLabelValues(operation).Inc()
}

// RecordVersionStamp records the outcome of a deferred version stamp
func (m *Metrics) RecordVersionStamp(outcome string) {
	if m == nil {
		return
	}
	m.VersionStamps.WithLabelValues(outcome).Inc()
}

// RecordSchemaRebuild records a schema rebuild
func (m *Metrics) RecordSchemaRebuild(err error) {
	if m == nil {
		return
	}
	m.SchemaRebuilds.WithLabelValues(status(err)).Inc()
}

// RecordHTTPRequest records one handled request. route is the matched
// pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetBackendUp records backend reachability
func (m *Metrics) SetBackendUp(up bool) {
	if m == nil {
		return
	}
	m.BackendUp.Set(boolGauge(up))
}

// SetNATSConnected records the NATS connection state
func (m *Metrics) SetNATSConnected(connected bool) {
	if m == nil {
		return
	}
	m.NATSConnected.Set(boolGauge(connected))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
