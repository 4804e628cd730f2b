package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the audit trail counters. Failures swallowed by the
// best-effort write and read paths surface here.
type Metrics struct {
	EntriesWritten *prometheus.CounterVec
	WriteFailures  *prometheus.CounterVec
	ReadFailures   *prometheus.CounterVec
	Recoveries     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		EntriesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_entries_written_total",
				Help: "Total number of audit log entries appended",
			},
			[]string{"action"},
		),
		WriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_write_failures_total",
				Help: "Audit log writes that were rejected or failed to persist",
			},
			[]string{"action"},
		),
		ReadFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_read_failures_total",
				Help: "Audit log reads that failed and degraded to an empty result",
			},
			[]string{"operation"},
		),
		Recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_recoveries_total",
				Help: "Recover requests by outcome",
			},
			[]string{"outcome"},
		),
		gatherer: reg,
	}

	reg.MustRegister(m.EntriesWritten, m.WriteFailures, m.ReadFailures, m.Recoveries)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
