// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"
)

// Collector gathers the QR login flow counters.
type Collector struct {
	sessionsCreated prometheus.Counter
	transitions     *prometheus.CounterVec
	pollRequests    prometheus.Counter
	nonceMismatches prometheus.Counter
	sweepsRun       prometheus.Counter
	sweepExpired    prometheus.Counter
	ticketsIssued   prometheus.Counter
}

// NewCollector registers the collectors on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrlogin_sessions_created_total",
			Help: "Total QR login sessions created.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrlogin_transitions_total",
			Help: "Session state transitions by target status.",
		}, []string{"to"}),
		pollRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrlogin_poll_requests_total",
			Help: "Total status poll requests handled.",
		}),
		nonceMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrlogin_nonce_mismatches_total",
			Help: "Polls rejected due to a stale or foreign nonce.",
		}),
		sweepsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrlogin_sweeps_total",
			Help: "Expiry sweeper runs.",
		}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrlogin_sweep_expired_total",
			Help: "Sessions transitioned to expired by the sweeper.",
		}),
		ticketsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrlogin_tickets_issued_total",
			Help: "One-time login tickets minted at confirmation.",
		}),
	}

	reg.MustRegister(
		c.sessionsCreated, c.transitions, c.pollRequests,
		c.nonceMismatches, c.sweepsRun, c.sweepExpired, c.ticketsIssued,
	)
	return c
}

func (c *Collector) RecordSessionCreated()        { c.sessionsCreated.Inc() }
func (c *Collector) RecordTransition(to string)   { c.transitions.WithLabelValues(to).Inc() }
func (c *Collector) RecordPoll()                  { c.pollRequests.Inc() }
func (c *Collector) RecordNonceMismatch()         { c.nonceMismatches.Inc() }
func (c *Collector) RecordSweep(expired int) {
	c.sweepsRun.Inc()
	c.sweepExpired.Add(float64(expired))
}
func (c *Collector) RecordTicketIssued() { c.ticketsIssued.Inc() }

// Handler exposes the registry in Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
