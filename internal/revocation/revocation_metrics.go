package revocation

import "github.com/prometheus/client_golang/prometheus"

var (
	// ChecksTotal counts revocation checks by outcome.
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "revocation_checks_total",
			Help:      "Revocation checks by outcome.",
		},
		[]string{"outcome"},
	)

	// RevocationsTotal counts tokens added to the revocation list.
	RevocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "revocations_total",
			Help:      "Tokens added to the revocation list.",
		},
	)
)

func init() {
	prometheus.MustRegister(ChecksTotal, RevocationsTotal)
}
