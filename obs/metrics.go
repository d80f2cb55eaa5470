package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessgate_trust_refresh_total",
			Help: "Trust-material refresh attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	loginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessgate_login_outcomes_total",
			Help: "Login attempts by terminal outcome and denial reason.",
		},
		[]string{"outcome", "reason"},
	)
)

// Init registers the metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(refreshTotal, loginOutcomes)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Refresh records one refresh attempt for a trust-material source
// ("keyset" or "ranges").
func Refresh(source, outcome string) {
	refreshTotal.WithLabelValues(source, outcome).Inc()
}

// Login records one terminal login outcome. reason is empty for
// non-denial outcomes.
func Login(outcome, reason string) {
	loginOutcomes.WithLabelValues(outcome, reason).Inc()
}
