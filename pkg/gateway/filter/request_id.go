// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"strconv"
	"sync/atomic"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"

	"github.com/google/uuid"
)

const (
	FilterTypeRequestID = "RequestIDFilter"
)

// RequestIDFilter stamps every request with an ID and a request-scoped
// logger carrying it.
type RequestIDFilter struct {
	counter atomic.Uint64
	prefix  string
}

func NewRequestIDFilter() *RequestIDFilter {
	return &RequestIDFilter{
		prefix: uuid.New().String()[0:8],
	}
}

func (f *RequestIDFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	requestID := f.generateRequestID()
	d.Req.Header.Set(s3consts.XAmzRequestID, requestID)

	l := logger.With().Str("request_id", requestID).Logger()
	d.Ctx = logger.WithLogger(d.Ctx, &l)

	return Next{}, nil
}

func (f *RequestIDFilter) generateRequestID() string {
	return f.prefix + strconv.FormatUint(f.counter.Add(1), 10)
}

func (f *RequestIDFilter) Type() string {
	return FilterTypeRequestID
}
