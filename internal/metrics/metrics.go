// Package metrics holds the Prometheus collectors for admissions, waivers,
// decay and debug gate completions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// admissionsTotal counts admission decisions by outcome and matched rule
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duro_admissions_total",
		Help: "Admission decisions by outcome and rule",
	}, []string{"outcome", "rule"})

	// waiversTotal counts accepted waivers by rule
	waiversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duro_waivers_total",
		Help: "Accepted waivers by rule",
	}, []string{"rule"})

	// decayUpdatesTotal counts fact confidence values lowered by decay
	decayUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duro_decay_updates_total",
		Help: "Fact confidence values committed by decay",
	})

	// gateCompletionsTotal counts debug gate completions by mode (passed, override)
	gateCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duro_gate_completions_total",
		Help: "Debug gate completions by mode",
	}, []string{"mode"})
)

// Admission records one admission decision. rule is empty when no rule matched.
func Admission(outcome, rule string) {
	if rule == "" {
		rule = "none"
	}
	admissionsTotal.WithLabelValues(outcome, rule).Inc()
}

// Waiver records one accepted waiver.
func Waiver(rule string) {
	waiversTotal.WithLabelValues(rule).Inc()
}

// DecayUpdates records n committed decay updates.
func DecayUpdates(n int) {
	if n > 0 {
		decayUpdatesTotal.Add(float64(n))
	}
}

// GateCompletion records a debug gate completion.
func GateCompletion(mode string) {
	gateCompletionsTotal.WithLabelValues(mode).Inc()
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
