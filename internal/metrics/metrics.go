// Package metrics exposes Prometheus counters for the canonicalization
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed counts records by kind and apply outcome
	// (inserted, updated, skipped, unmapped, failed).
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "symbio",
		Name:      "records_processed_total",
		Help:      "Records applied to canonical tables, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// FraudFlags counts advisory flags raised by the detector.
	FraudFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "symbio",
		Name:      "fraud_flags_total",
		Help:      "Fraud flags raised, by severity.",
	}, []string{"severity"})

	// Revaluations counts valuation recomputations.
	Revaluations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "symbio",
		Name:      "revaluations_total",
		Help:      "Material valuation recomputations performed.",
	})

	// Runs counts pipeline runs by terminal status.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "symbio",
		Name:      "runs_total",
		Help:      "Pipeline runs, by terminal status.",
	}, []string{"status"})
)
