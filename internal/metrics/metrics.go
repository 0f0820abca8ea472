// Package metrics exposes Prometheus instrumentation for the discount
// engine's hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolutions counts promotion resolution outcomes by result
	// (applied, not_found, inactive, minimum_not_met, cap_reached, error).
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_resolutions_total",
			Help: "Promotion resolution outcomes",
		},
		[]string{"result"},
	)

	// FlashAllocations counts flash sale price override outcomes by result
	// (allocated, insufficient_stock).
	FlashAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_flash_allocations_total",
			Help: "Flash sale allocation outcomes",
		},
		[]string{"result"},
	)

	// CommitDuration tracks ledger commit latency by status
	// (committed, conflict, error).
	CommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promo_ledger_commit_duration_seconds",
			Help:    "Duration of usage ledger commits in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"status"},
	)
)

// ObserveCommit records one ledger commit attempt.
func ObserveCommit(status string, seconds float64) {
	CommitDuration.WithLabelValues(status).Observe(seconds)
}
