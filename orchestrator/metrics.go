// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	promQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_orchestrator_queries_total",
			Help: "Total number of orchestrated queries by terminal status",
		},
		[]string{"status"},
	)
	promQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexus_orchestrator_query_duration_milliseconds",
			Help:    "End-to-end orchestrated query duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
	)
	promSourceResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_orchestrator_source_results_total",
			Help: "Per-source query outcomes",
		},
		[]string{"connector", "status"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(promQueries)
	prometheus.MustRegister(promQueryDuration)
	prometheus.MustRegister(promSourceResults)
}
