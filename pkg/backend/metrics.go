// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"github.com/LeeDigitalWorks/basins3/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	backendCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basins3",
		Subsystem: "backend",
		Name:      "calls_total",
		Help:      "Backend adapter calls by operation and result",
	}, []string{"op", "result"}) // result: "ok" or an error kind

	backendRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basins3",
		Subsystem: "backend",
		Name:      "retries_total",
		Help:      "Retried backend attempts",
	}, []string{"op"})

	backendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "basins3",
		Subsystem: "backend",
		Name:      "call_duration_seconds",
		Help:      "Backend adapter call latency including retries and confirmation",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"op"})

	pendingTxs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "basins3",
		Subsystem: "backend",
		Name:      "pending_transactions",
		Help:      "Transactions submitted and awaiting confirmation",
	})
)

func init() {
	debug.Registry().MustRegister(
		backendCalls,
		backendRetries,
		backendDuration,
		pendingTxs,
	)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "canceled"
}
