package entitysync

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts emitted sync requests.
	RequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "entitysync_requests_total",
			Help:      "Sync requests emitted on cache misses.",
		},
	)

	// ResponsesTotal counts found sync responses applied to the cache.
	ResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "entitysync_responses_total",
			Help:      "Found sync responses applied to the cache.",
		},
	)

	// AbsentTotal counts entities the source confirmed missing.
	AbsentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "entitysync_absent_total",
			Help:      "Entities confirmed absent upstream.",
		},
	)

	// StaleUpdatesTotal counts out-of-order updates dropped.
	StaleUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "entitysync_stale_updates_total",
			Help:      "Entity updates dropped for stale sourceVersion.",
		},
	)

	// FilteredEventsTotal counts events dropped by the domain filter.
	FilteredEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "entitysync_filtered_events_total",
			Help:      "Entity events dropped for a foreign domain.",
		},
	)

	// WaitTimeoutsTotal counts Wait calls released by deadline.
	WaitTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "entitysync_wait_timeouts_total",
			Help:      "Wait calls that hit their deadline.",
		},
	)

	// RequestExpiriesTotal counts pending requests retired by TTL.
	RequestExpiriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "entitysync_request_expiries_total",
			Help:      "Pending sync requests retired by the TTL janitor.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		ResponsesTotal,
		AbsentTotal,
		StaleUpdatesTotal,
		FilteredEventsTotal,
		WaitTimeoutsTotal,
		RequestExpiriesTotal,
	)
}
