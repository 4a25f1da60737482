package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	PredictionsTotal   *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	SweepRunsTotal     *prometheus.CounterVec
	SweepFindingsTotal *prometheus.CounterVec
	OutboxPublished    prometheus.Counter
	OutboxFailures     prometheus.Counter
	AnchorsTotal       *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		PredictionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "residuechain_predictions_total",
			Help: "Residue predictions computed, by overall risk category.",
		}, []string{"risk_category"}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "residuechain_sample_transitions_total",
			Help: "Sample request state transitions, by target state.",
		}, []string{"state"}),
		SweepRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "residuechain_sweep_runs_total",
			Help: "Compliance sweep executions, by check.",
		}, []string{"check"}),
		SweepFindingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "residuechain_sweep_findings_total",
			Help: "Conditions found and notified by the sweeper, by check.",
		}, []string{"check"}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "residuechain_outbox_published_total",
			Help: "Notification outbox entries successfully published.",
		}),
		OutboxFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "residuechain_outbox_failures_total",
			Help: "Notification outbox publish attempts that failed.",
		}),
		AnchorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "residuechain_ledger_anchors_total",
			Help: "Ledger anchor submissions, by outcome.",
		}, []string{"outcome"}),
		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "residuechain_hash_verifications_total",
			Help: "Tamper verifications, by outcome.",
		}, []string{"outcome"}),
	}
}
