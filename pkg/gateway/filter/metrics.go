// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"github.com/LeeDigitalWorks/basins3/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricErrorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_error_count",
		Help: "Number of errors encountered in filters",
	}, []string{"filter"})

	metricRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "filter_run_duration_seconds",
		Help:    "Duration of filter runs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	metricRequestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_request_count",
		Help: "Number of requests processed by filters",
	}, []string{"filter"})

	metricContextCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_context_cancelled_count",
		Help: "Number of times filter context was cancelled",
	}, []string{"filter", "error"})

	metricAuthTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_filter_total",
		Help: "Total authentication attempts by result",
	}, []string{"result", "auth_type"})

	metricRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_rejected_total",
		Help: "Requests rejected by the rate limit filter",
	}, []string{"op_type"})
)

func init() {
	debug.Registry().MustRegister(
		metricErrorCount,
		metricRunDuration,
		metricRequestCount,
		metricContextCancelled,
		metricAuthTotal,
		metricRateLimited,
	)
}
