// Package metrics exposes Prometheus instrumentation on a dedicated listener
// so operational scrapes never share the application port.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuditEntriesAppended counts successfully appended audit entries.
	AuditEntriesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_audit_entries_appended_total",
		Help: "Audit entries appended to tenant hash chains.",
	})

	// AuditAppendFailures counts audit appends that could not be persisted.
	// Appends never fail the business mutation, so this counter is the only
	// durable signal that entries were lost.
	AuditAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_audit_append_failures_total",
		Help: "Audit entries that failed to persist.",
	})

	// ChainCorruptionAlarms counts hash chain verification failures. Any
	// nonzero value indicates storage tampering or corruption and must page.
	ChainCorruptionAlarms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_audit_chain_corruption_alarms_total",
		Help: "Audit chain verifications that found a broken or mismatched hash.",
	})

	// PlanTransitions counts inheritance plan status transitions.
	PlanTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_plan_transitions_total",
		Help: "Inheritance plan lifecycle transitions.",
	}, []string{"from", "to"})

	// serviceInfo identifies which binary a scrape came from when several
	// custody services share a Prometheus job.
	serviceInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custody_service_info",
		Help: "Constant gauge labeled with the serving binary's name.",
	}, []string{"service"})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. The name labels the
// service info gauge so the scrape identifies the serving binary.
func New(name, addr string) (*MetricsServer, error) {
	serviceInfo.WithLabelValues(name).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
