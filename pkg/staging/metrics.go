// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"github.com/LeeDigitalWorks/basins3/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stagingBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "basins3",
		Subsystem: "staging",
		Name:      "bytes_in_use",
		Help:      "Bytes reserved by staged request bodies",
	})

	stagingRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "basins3",
		Subsystem: "staging",
		Name:      "rejected_total",
		Help:      "Bodies refused because staging capacity was exhausted",
	})
)

func init() {
	debug.Registry().MustRegister(stagingBytes, stagingRejected)
}
