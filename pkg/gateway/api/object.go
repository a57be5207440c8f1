// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/object"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"
)

// PutObjectHandler stores an object.
// PUT /{bucket}/{key}
func (s *Server) PutObjectHandler(d *data.Data, w http.ResponseWriter) {
	body, length, trailers, err := requestBody(d)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	meta, err := userMetadata(d.Req.Header)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	checksum, err := expectedChecksum(d.Req.Header)
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	result, err := s.svc.Objects().PutObject(d.Ctx, &object.PutObjectRequest{
		Bucket:        d.S3Info.Bucket,
		Key:           d.S3Info.Key,
		Body:          body,
		ContentLength: length,
		ContentType:   d.Req.Header.Get("Content-Type"),
		UserMetadata:  meta,
		ContentMD5:    d.Req.Header.Get("Content-MD5"),
		ContentSHA256: d.Req.Header.Get(s3consts.XAmzContentSHA256),
		Checksum:      checksum,
		Trailers:      trailers,
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	w.Header().Set("ETag", result.Object.ETag)
	if result.Object.ContentAddress != "" {
		w.Header().Set(s3consts.XAmzContentAddress, result.Object.ContentAddress)
	}
	if result.Checksum.Value != "" {
		w.Header().Set(result.Checksum.Algorithm.Header(), result.Checksum.Value)
	}
	w.WriteHeader(http.StatusOK)
}

// GetObjectHandler streams an object or a byte range of it.
// GET /{bucket}/{key}
func (s *Server) GetObjectHandler(d *data.Data, w http.ResponseWriter) {
	result, err := s.svc.Objects().GetObject(d.Ctx, &object.GetObjectRequest{
		Bucket:     d.S3Info.Bucket,
		Key:        d.S3Info.Key,
		Range:      d.Req.Header.Get("Range"),
		Conditions: conditions(d.Req.Header),
	})
	if err != nil {
		if result != nil {
			// failed conditionals still identify the object
			w.Header().Set("ETag", result.Object.ETag)
			w.Header().Set("Last-Modified", result.Object.LastModified.UTC().Format(http.TimeFormat))
		}
		s.handleError(w, d, err)
		return
	}
	defer result.Body.Close()

	status := writeObjectHeaders(w, result)
	w.WriteHeader(status)
	if _, err := io.Copy(w, result.Body); err != nil {
		// headers are out; the client sees a short body
		logger.Ctx(d.Ctx).Warn().Err(err).Msg("failed to stream object")
	}
}

// HeadObjectHandler returns object metadata.
// HEAD /{bucket}/{key}
func (s *Server) HeadObjectHandler(d *data.Data, w http.ResponseWriter) {
	result, err := s.svc.Objects().HeadObject(d.Ctx, &object.GetObjectRequest{
		Bucket:     d.S3Info.Bucket,
		Key:        d.S3Info.Key,
		Range:      d.Req.Header.Get("Range"),
		Conditions: conditions(d.Req.Header),
	})
	if err != nil {
		if result != nil {
			w.Header().Set("ETag", result.Object.ETag)
			w.Header().Set("Last-Modified", result.Object.LastModified.UTC().Format(http.TimeFormat))
		}
		s.handleError(w, d, err)
		return
	}
	w.WriteHeader(writeObjectHeaders(w, result))
}

// writeObjectHeaders sets the response headers of a GET or HEAD and returns
// the status: 206 for ranges, 200 otherwise.
func writeObjectHeaders(w http.ResponseWriter, result *object.GetObjectResult) int {
	setObjectHeaders(w, result.Object)
	if result.Range == nil {
		return http.StatusOK
	}
	r := result.Range
	w.Header().Set("Content-Length", strconv.FormatInt(r.Length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.Offset, r.Offset+r.Length-1, result.Object.Size))
	return http.StatusPartialContent
}

// DeleteObjectHandler removes a key.
// DELETE /{bucket}/{key}
func (s *Server) DeleteObjectHandler(d *data.Data, w http.ResponseWriter) {
	if err := s.svc.Objects().DeleteObject(d.Ctx, d.S3Info.Bucket, d.S3Info.Key); err != nil {
		s.handleError(w, d, err)
		return
	}
	writeSuccessNoContent(w)
}

// DeleteObjectsHandler removes up to 1000 keys in one request.
// POST /{bucket}?delete
func (s *Server) DeleteObjectsHandler(d *data.Data, w http.ResponseWriter) {
	var req s3types.DeleteObjectsRequest
	if err := decodeXMLBody(d, &req); err != nil {
		s.handleError(w, d, err)
		return
	}
	if len(req.Objects) == 0 || len(req.Objects) > s3consts.MaxDeleteObjects {
		writeXMLErrorResponse(w, d, s3err.ErrMalformedXML)
		return
	}

	keys := make([]string, 0, len(req.Objects))
	for _, o := range req.Objects {
		keys = append(keys, o.Key)
	}
	result, err := s.svc.Objects().DeleteObjects(d.Ctx, &object.DeleteObjectsRequest{
		Bucket: d.S3Info.Bucket,
		Keys:   keys,
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	resp := s3types.DeleteObjectsResult{Xmlns: s3consts.XMLNS}
	if !req.Quiet {
		for _, key := range result.Deleted {
			resp.Deleted = append(resp.Deleted, s3types.DeletedObject{Key: key})
		}
	}
	for _, e := range result.Errors {
		code := toErrorCode(e.Err)
		resp.Errors = append(resp.Errors, s3types.DeleteError{
			Key:     e.Key,
			Code:    code.Code(),
			Message: code.Description(),
		})
	}
	writeXMLResponse(w, d, http.StatusOK, resp)
}

// CopyObjectHandler copies an object within the network.
// PUT /{bucket}/{key} with x-amz-copy-source
func (s *Server) CopyObjectHandler(d *data.Data, w http.ResponseWriter) {
	srcBucket, srcKey, err := parseCopySource(d.Req.Header.Get(s3consts.XAmzCopySource))
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	req := &object.CopyObjectRequest{
		SrcBucket:        srcBucket,
		SrcKey:           srcKey,
		DstBucket:        d.S3Info.Bucket,
		DstKey:           d.S3Info.Key,
		SourceConditions: copySourceConditions(d.Req.Header),
	}
	switch strings.ToUpper(d.Req.Header.Get(s3consts.XAmzMetadataDirective)) {
	case "", s3consts.MetadataDirectiveCopy:
	case s3consts.MetadataDirectiveReplace:
		req.ReplaceMetadata = true
		req.ContentType = d.Req.Header.Get("Content-Type")
		if req.UserMetadata, err = userMetadata(d.Req.Header); err != nil {
			s.handleError(w, d, err)
			return
		}
	default:
		writeXMLErrorResponse(w, d, s3err.ErrInvalidArgument)
		return
	}

	result, err := s.svc.Objects().CopyObject(d.Ctx, req)
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	if result.Object.ContentAddress != "" {
		w.Header().Set(s3consts.XAmzContentAddress, result.Object.ContentAddress)
	}
	writeXMLResponse(w, d, http.StatusOK, s3types.CopyObjectResult{
		Xmlns:        s3consts.XMLNS,
		LastModified: isoTime(result.Object.LastModified),
		ETag:         result.Object.ETag,
	})
}
