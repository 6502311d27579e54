package events

import "github.com/prometheus/client_golang/prometheus"

var (
	// PublishedTotal counts envelope deliveries by topic.
	PublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total envelope deliveries by topic.",
		},
		[]string{"topic"},
	)

	// HandlerErrorsTotal counts handler failures by topic. Failed messages
	// are skipped, not redelivered, so this is the alerting signal for
	// malformed or unprocessable events.
	HandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Subsystem: "events",
			Name:      "handler_errors_total",
			Help:      "Total handler failures by topic.",
		},
		[]string{"topic"},
	)

	// RelayDeliveriesTotal counts outbound webhook relay attempts by result.
	RelayDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Subsystem: "events",
			Name:      "relay_deliveries_total",
			Help:      "Outbound relay delivery attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(PublishedTotal, HandlerErrorsTotal, RelayDeliveriesTotal)
}
