// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"github.com/LeeDigitalWorks/basins3/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	openSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "basins3",
		Subsystem: "multipart",
		Name:      "open_sessions",
		Help:      "Multipart sessions that are OPEN or COMPLETING",
	})

	sessionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basins3",
		Subsystem: "multipart",
		Name:      "sessions_finished_total",
		Help:      "Multipart sessions by terminal state",
	}, []string{"state"})

	completeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basins3",
		Subsystem: "multipart",
		Name:      "complete_failures_total",
		Help:      "CompleteMultipartUpload calls that returned the session to OPEN",
	}, []string{"reason"})
)

func init() {
	debug.Registry().MustRegister(openSessions, sessionsFinished, completeFailures)
}
