// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
)

type wrappedResponseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *wrappedResponseRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *wrappedResponseRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Flush lets long object downloads reach the client as they are read.
func (w *wrappedResponseRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// writeXMLResponse encodes v with the XML declaration. The body is built
// before the status is written so encoding failures still produce a 500.
func writeXMLResponse(w http.ResponseWriter, d *data.Data, status int, v any) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		logger.Ctx(d.Ctx).Error().Err(err).Msg("failed to encode XML response")
		writeXMLErrorResponse(w, d, s3err.ErrInternalError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeXMLErrorResponse(w http.ResponseWriter, d *data.Data, s3code s3err.ErrorCode) {
	w.Header().Set("Content-Type", "application/xml")
	var bytesBuffer bytes.Buffer
	bytesBuffer.WriteString(xml.Header)
	e := xml.NewEncoder(&bytesBuffer)

	s3error := s3code.ToErrorResponse(d.Req.URL.Path)
	if d.Req.Header.Get(s3consts.XAmzRequestID) != "" {
		s3error.RequestID = d.Req.Header.Get(s3consts.XAmzRequestID)
	} else {
		s3error.RequestID = "NotAvailable"
	}

	e.Encode(s3error)

	w.Header().Set("Content-Length", strconv.Itoa(bytesBuffer.Len()))
	w.WriteHeader(s3error.HTTPCode)
	w.Write(bytesBuffer.Bytes())
}

// writeSuccessNoContent writes 204 with no body.
func writeSuccessNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
