package subscription

import "github.com/prometheus/client_golang/prometheus"

var (
	// TransitionsTotal counts applied lifecycle transitions by target state.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "subscription_transitions_total",
			Help:      "Applied subscription transitions by target state.",
		},
		[]string{"to"},
	)

	// SweepsTotal counts sweeper ticks.
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "subscription_sweeps_total",
			Help:      "Expiration sweep runs.",
		},
	)

	// SweepExpiredTotal counts subscriptions expired by the sweeper.
	SweepExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "subscription_sweep_expired_total",
			Help:      "Subscriptions expired by the sweeper.",
		},
	)

	// SweepFailuresTotal counts per-record expiry failures.
	SweepFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "subscription_sweep_failures_total",
			Help:      "Per-record failures during expiration sweeps.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionsTotal,
		SweepsTotal,
		SweepExpiredTotal,
		SweepFailuresTotal,
	)
}
