package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch outcomes reported on cadence_dispatch_total.
const (
	OutcomeSent            = "sent"
	OutcomeSkipped         = "skipped"
	OutcomeFailedPermanent = "failed_permanent"
	OutcomeRetry           = "retry"
	OutcomeLeaseLost       = "lease_lost"
	OutcomeError           = "error"
)

// Run actions reported on cadence_runs_total.
const (
	RunActionStarted   = "started"
	RunActionDuplicate = "duplicate"
	RunActionCancelled = "cancelled"
	RunActionCompleted = "completed"
)

// CadenceMetrics records dispatcher and run lifecycle activity.
type CadenceMetrics struct {
	dispatch       *prometheus.CounterVec
	claimConflicts prometheus.Counter
	tickDuration   prometheus.Histogram
	runs           *prometheus.CounterVec
}

// NewCadenceMetrics registers the cadence metrics on the provided registerer.
func NewCadenceMetrics(reg prometheus.Registerer) *CadenceMetrics {
	if reg == nil {
		return &CadenceMetrics{}
	}
	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_dispatch_total",
		Help: "Claimed cadence events by kind and dispatch outcome.",
	}, []string{"kind", "outcome"})
	claimConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cadence_claim_conflicts_total",
		Help: "Claims lost to another worker.",
	})
	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cadence_tick_duration_seconds",
		Help:    "Duration of a dispatcher tick in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cadence_runs_total",
		Help: "Cadence run lifecycle transitions.",
	}, []string{"action"})
	reg.MustRegister(dispatch, claimConflicts, tickDuration, runs)
	return &CadenceMetrics{
		dispatch:       dispatch,
		claimConflicts: claimConflicts,
		tickDuration:   tickDuration,
		runs:           runs,
	}
}

// IncDispatch counts one dispatch outcome for the given step kind.
func (c *CadenceMetrics) IncDispatch(kind, outcome string) {
	if c == nil || c.dispatch == nil {
		return
	}
	c.dispatch.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// IncClaimConflict counts a claim that another worker won.
func (c *CadenceMetrics) IncClaimConflict() {
	if c == nil || c.claimConflicts == nil {
		return
	}
	c.claimConflicts.Inc()
}

// ObserveTick records the wall time of one tick.
func (c *CadenceMetrics) ObserveTick(duration time.Duration) {
	if c == nil || c.tickDuration == nil {
		return
	}
	c.tickDuration.Observe(duration.Seconds())
}

// IncRun counts a run lifecycle action.
func (c *CadenceMetrics) IncRun(action string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(action)).Inc()
}
