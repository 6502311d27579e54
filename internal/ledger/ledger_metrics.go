package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts ledger operations by type.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type.",
		},
		[]string{"type"},
	)

	// LedgerOpDuration observes operation latency by type.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bizsync",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// RejectedDebitsTotal counts debits rejected for insufficient balance.
	RejectedDebitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "ledger_rejected_debits_total",
			Help:      "Debits rejected wholesale for insufficient balance.",
		},
	)

	// AlertsFiredTotal counts one-shot low-balance alerts.
	AlertsFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bizsync",
			Name:      "ledger_low_balance_alerts_total",
			Help:      "Low-balance alert events fired.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		RejectedDebitsTotal,
		AlertsFiredTotal,
	)
}

// observeOp records one operation and returns a func that observes its
// duration when called.
func observeOp(opType string) func() {
	LedgerOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		LedgerOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
