// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"

	"github.com/getsentry/sentry-go"
)

type Handler func(*data.Data, http.ResponseWriter)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	wrappedWriter := &wrappedResponseRecorder{
		ResponseWriter: w,
		statusCode:     0,
	}

	d := data.NewData(r.Context(), r)
	defer func() {
		status := strconv.Itoa(wrappedWriter.statusCode)
		// the client went away; do not count it as a server failure
		if errors.Is(r.Context().Err(), context.Canceled) && wrappedWriter.statusCode >= http.StatusInternalServerError {
			status = "canceled"
		}
		action := d.S3Info.Action.String()
		metricCalls.WithLabelValues(action, status).Inc()
		metricRequestDuration.WithLabelValues(action, status).Observe(time.Since(start).Seconds())
	}()

	_, err := s.chain.Run(d)
	if id := r.Header.Get(s3consts.XAmzRequestID); id != "" {
		w.Header().Set(s3consts.XAmzRequestID, id)
	}
	if err != nil {
		s.handleError(wrappedWriter, d, err)
		return
	}

	handler, exists := s.handlers[d.S3Info.Action]
	if !exists {
		writeXMLErrorResponse(wrappedWriter, d, s3err.ErrNotImplemented)
		return
	}
	handler(d, wrappedWriter)
}

// NotImplementedHandler answers actions that are routed but not supported.
func (s *Server) NotImplementedHandler(d *data.Data, w http.ResponseWriter) {
	writeXMLErrorResponse(w, d, s3err.ErrNotImplemented)
}

// toErrorCode finds the S3 code of an error from the filter chain or the
// service layer.
func toErrorCode(err error) s3err.ErrorCode {
	var coded s3err.Coded
	if errors.As(err, &coded) {
		return coded.ToS3Error()
	}
	var code s3err.ErrorCode
	if errors.As(err, &code) {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return s3err.ErrServiceUnavailable
	}
	return s3err.ErrInternalError
}

// handleError converts filter and service errors to HTTP responses. HEAD
// responses carry only the status.
func (s *Server) handleError(w http.ResponseWriter, d *data.Data, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		logger.Ctx(d.Ctx).Debug().Err(err).Msg("request canceled by client")
		return
	}

	code := toErrorCode(err)
	if code == s3err.ErrInternalError {
		logger.Ctx(d.Ctx).Error().Err(err).Msg("service layer error")
		sentry.CaptureException(err)
	} else {
		logger.Ctx(d.Ctx).Debug().Err(err).Str("code", code.Code()).Msg("request failed")
	}

	if d.Req.Method == http.MethodHead || code == s3err.ErrNotModified {
		w.WriteHeader(code.HTTPStatusCode())
		return
	}
	writeXMLErrorResponse(w, d, code)
}
