// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	promGatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_gateway_calls_total",
			Help: "Total number of connector gateway calls",
		},
		[]string{"connector", "operation", "status"},
	)
	promGatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexus_gateway_duration_milliseconds",
			Help:    "Connector gateway call duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"connector", "operation"},
	)
	promGatewayCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexus_gateway_cache_events_total",
			Help: "Gateway cache hits and misses per namespace",
		},
		[]string{"namespace", "event"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(promGatewayCalls)
	prometheus.MustRegister(promGatewayDuration)
	prometheus.MustRegister(promGatewayCacheEvents)
}
