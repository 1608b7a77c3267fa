package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported by the brokerage services. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	OrderTransitions  *prometheus.CounterVec
	CashMovements     *prometheus.CounterVec
	Conflicts         *prometheus.CounterVec
	InvariantFailures prometheus.Counter
	AuditRuns         *prometheus.CounterVec
	RequestCount      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrderTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brokerage_order_transitions_total",
				Help: "Order lifecycle operations by action, side and resulting status.",
			},
			[]string{"action", "side", "status"},
		),
		CashMovements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brokerage_cash_movements_total",
				Help: "Deposits and withdrawals by direction and journal status.",
			},
			[]string{"direction", "status"},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brokerage_optimistic_conflicts_total",
				Help: "Writes rejected because the stored version changed.",
			},
			[]string{"operation"},
		),
		InvariantFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "brokerage_ledger_invariant_failures_total",
				Help: "Assets found with usable size outside [0, size] by the auditor.",
			},
		),
		AuditRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brokerage_ledger_audit_runs_total",
				Help: "Ledger audit passes by result.",
			},
			[]string{"result"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	registry.MustRegister(
		m.OrderTransitions,
		m.CashMovements,
		m.Conflicts,
		m.InvariantFailures,
		m.AuditRuns,
		m.RequestCount,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOrder(action, side, status string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(action, side, status).Inc()
}

func (m *Metrics) ObserveCashMovement(direction, status string) {
	if m == nil {
		return
	}
	m.CashMovements.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) IncConflict(operation string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) AddInvariantFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InvariantFailures.Add(float64(n))
}

func (m *Metrics) IncAuditRun(result string) {
	if m == nil {
		return
	}
	m.AuditRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
