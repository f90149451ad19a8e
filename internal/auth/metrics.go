package auth

import "github.com/prometheus/client_golang/prometheus"

// Outcomes recorded besides the ErrorKind values.
const (
	OutcomeAuthenticated        = "authenticated"
	OutcomeAnonymous            = "anonymous"
	OutcomeAlreadyAuthenticated = "already_authenticated"
	OutcomeAbandoned            = "abandoned"
)

var authAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inventory_backend_auth_attempts_total",
		Help: "Bearer authentication attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(authAttemptsTotal)
}
