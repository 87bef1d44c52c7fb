package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_dispatch_total",
		Help: "Document changes routed by the dispatcher, by outcome.",
	}, []string{"type", "state", "mode", "outcome"})

	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docflow_handler_duration_seconds",
		Help:    "Wall time spent in transition handlers, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "state"})

	ConflictRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_conflict_retries_total",
		Help: "Safe handler re-invocations after a revision conflict.",
	}, []string{"type", "state"})

	WorkflowFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_workflow_failures_total",
		Help: "Failed workflow steps by workflow, step and error code.",
	}, []string{"workflow", "step", "code"})

	CredentialPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_credential_pushes_total",
		Help: "Credential store writes by section and result.",
	}, []string{"section", "result"})

	ChangeFeedReopensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docflow_change_feed_reopens_total",
		Help: "Times the change feed was reopened after a stream error.",
	})
)

// InitCustomMetrics registers the collectors. Call once at start-up.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}
	collectors := map[string]prometheus.Collector{
		"DispatchTotal":          DispatchTotal,
		"HandlerDuration":        HandlerDuration,
		"ConflictRetriesTotal":   ConflictRetriesTotal,
		"WorkflowFailuresTotal":  WorkflowFailuresTotal,
		"CredentialPushesTotal":  CredentialPushesTotal,
		"ChangeFeedReopensTotal": ChangeFeedReopensTotal,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}

// ObserveDispatch records one routed change.
func ObserveDispatch(docType, state, mode, outcome string, elapsed time.Duration) {
	DispatchTotal.WithLabelValues(docType, state, mode, outcome).Inc()
	if elapsed > 0 {
		HandlerDuration.WithLabelValues(docType, state).Observe(elapsed.Seconds())
	}
}

// ObserveStepFailure records a failed workflow step.
func ObserveStepFailure(workflow, step, code string) {
	WorkflowFailuresTotal.WithLabelValues(workflow, step, code).Inc()
}
