// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/LeeDigitalWorks/basins3/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basin_s3_call",
		Help: "Number of S3 API calls by action and response status",
	}, []string{"action", "status"})

	metricRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "s3api_request_duration_seconds",
		Help:    "Duration of S3 API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"action", "status_code"})
)

func init() {
	debug.Registry().MustRegister(metricCalls, metricRequestDuration)
}
