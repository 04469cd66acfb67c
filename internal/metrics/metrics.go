package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the system
type Metrics struct {
	// Ingest path
	AssignTotal           prometheus.Counter
	EventsTotal           *prometheus.CounterVec // event_type
	EventsByBrand         *prometheus.CounterVec // brand_id
	QuotaExceeded         *prometheus.CounterVec // brand_id
	ExperimentCacheHits   prometheus.Counter
	ExperimentCacheMisses prometheus.Counter

	// Decision pipeline
	EvaluationsTotal *prometheus.CounterVec // brand_id
	DecisionsTotal   *prometheus.CounterVec // action
	DryRunDecisions  prometheus.Counter
	DecisionErrors   prometheus.Counter

	// Guardrail
	GuardrailBlocked *prometheus.CounterVec // reason
	ActuatorFailures prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	return &Metrics{
		AssignTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_assign_total",
			Help: "Total number of variant assignments served",
		}),
		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_events_total",
				Help: "Total number of experiment events recorded by type",
			},
			[]string{"event_type"},
		),
		EventsByBrand: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_events_by_brand",
				Help: "Total number of experiment events recorded per brand",
			},
			[]string{"brand_id"},
		),
		QuotaExceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_quota_exceeded_by_brand",
				Help: "Number of ingest requests rejected due to brand quota",
			},
			[]string{"brand_id"},
		),
		ExperimentCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_experiment_cache_hits",
			Help: "Number of assignment-path experiment reads served from cache",
		}),
		ExperimentCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_experiment_cache_misses",
			Help: "Number of assignment-path experiment reads that hit the store",
		}),
		EvaluationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_evaluations_total",
				Help: "Number of optimizer evaluations per brand",
			},
			[]string{"brand_id"},
		),
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_decisions_total",
				Help: "Number of optimizer decisions by action",
			},
			[]string{"action"},
		),
		DryRunDecisions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_dry_run_decisions",
			Help: "Number of decisions computed under an active kill switch",
		}),
		DecisionErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_decision_errors",
			Help: "Number of decisions whose execution failed",
		}),
		GuardrailBlocked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_guardrail_blocked",
				Help: "Number of actions rejected by the guardrail by reason",
			},
			[]string{"reason"},
		),
		ActuatorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_actuator_failures",
			Help: "Number of delegated platform actions that failed",
		}),
	}
}
