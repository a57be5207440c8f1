// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
)

type Response interface {
	IsEnd() bool
}

type Next struct{}

func (n Next) IsEnd() bool {
	return false
}

type End struct{}

func (e End) IsEnd() bool {
	return true
}

type Filter interface {
	Run(d *data.Data) (Response, error)
	Type() string
}

// Chain runs filters in order until one ends the request or fails.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

func (c *Chain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
}

// Run returns the type of the filter that stopped the chain, if any.
func (c *Chain) Run(d *data.Data) (string, error) {
	for _, filter := range c.filters {
		t := time.Now()
		resp, err := filter.Run(d)
		metricRunDuration.Observe(time.Since(t).Seconds())
		metricRequestCount.WithLabelValues(filter.Type()).Inc()

		if d.Ctx.Err() != nil {
			metricContextCancelled.WithLabelValues(filter.Type(), d.Ctx.Err().Error()).Inc()
			return filter.Type(), d.Ctx.Err()
		}

		if err != nil {
			metricErrorCount.WithLabelValues(filter.Type()).Inc()
			return filter.Type(), err
		}
		if resp.IsEnd() {
			return filter.Type(), nil
		}
	}
	return "", nil
}
