package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"payment-orchestrator/internal/errors"
)

var procedureOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_procedures_total",
		Help: "Orchestration procedures by outcome",
	},
	[]string{"procedure", "outcome"},
)

// observe counts a finished procedure. Call it deferred with the named error.
func observe(procedure string, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = string(errors.CodeOf(*err))
	}
	procedureOutcomes.WithLabelValues(procedure, outcome).Inc()
}
