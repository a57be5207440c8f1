// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"github.com/LeeDigitalWorks/basins3/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	indexHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basins3",
		Subsystem: "index",
		Name:      "hits_total",
		Help:      "Index lookups answered without the backend",
	}, []string{"kind"}) // kind: "bucket", "object"

	indexMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basins3",
		Subsystem: "index",
		Name:      "misses_total",
		Help:      "Index lookups that fell through to the backend",
	}, []string{"kind"})
)

func init() {
	debug.Registry().MustRegister(indexHits, indexMisses)
}
