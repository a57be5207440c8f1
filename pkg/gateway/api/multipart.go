// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/multipart"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"
)

const defaultMaxParts = 1000

// CreateMultipartUploadHandler opens an upload session.
// POST /{bucket}/{key}?uploads
func (s *Server) CreateMultipartUploadHandler(d *data.Data, w http.ResponseWriter) {
	meta, err := userMetadata(d.Req.Header)
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	result, err := s.svc.Multipart().CreateUpload(d.Ctx, &multipart.CreateUploadRequest{
		Bucket:       d.S3Info.Bucket,
		Key:          d.S3Info.Key,
		ContentType:  d.Req.Header.Get("Content-Type"),
		UserMetadata: meta,
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	writeXMLResponse(w, d, http.StatusOK, s3types.InitiateMultipartUploadResult{
		Xmlns:    s3consts.XMLNS,
		Bucket:   d.S3Info.Bucket,
		Key:      d.S3Info.Key,
		UploadID: result.UploadID,
	})
}

// UploadPartHandler stages one part.
// PUT /{bucket}/{key}?partNumber={partNumber}&uploadId={uploadId}
func (s *Server) UploadPartHandler(d *data.Data, w http.ResponseWriter) {
	query := d.Req.URL.Query()
	partNumber, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil {
		writeXMLErrorResponse(w, d, s3err.ErrInvalidPartNumber)
		return
	}

	body, length, _, err := requestBody(d)
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	result, err := s.svc.Multipart().UploadPart(d.Ctx, &multipart.UploadPartRequest{
		Bucket:        d.S3Info.Bucket,
		Key:           d.S3Info.Key,
		UploadID:      query.Get("uploadId"),
		PartNumber:    partNumber,
		Body:          body,
		ContentLength: length,
		ContentMD5:    d.Req.Header.Get("Content-MD5"),
		ContentSHA256: d.Req.Header.Get(s3consts.XAmzContentSHA256),
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	w.Header().Set("ETag", result.ETag)
	w.WriteHeader(http.StatusOK)
}

// CompleteMultipartUploadHandler assembles the listed parts into the object.
// POST /{bucket}/{key}?uploadId={uploadId}
func (s *Server) CompleteMultipartUploadHandler(d *data.Data, w http.ResponseWriter) {
	var body s3types.CompleteMultipartUploadRequest
	if err := decodeXMLBody(d, &body); err != nil {
		s.handleError(w, d, err)
		return
	}
	if len(body.Parts) > s3consts.MaxPartID {
		writeXMLErrorResponse(w, d, s3err.ErrTooManyParts)
		return
	}

	parts := make([]multipart.PartEntry, 0, len(body.Parts))
	for _, p := range body.Parts {
		parts = append(parts, multipart.PartEntry{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	result, err := s.svc.Multipart().CompleteUpload(d.Ctx, &multipart.CompleteUploadRequest{
		Bucket:   d.S3Info.Bucket,
		Key:      d.S3Info.Key,
		UploadID: d.Req.URL.Query().Get("uploadId"),
		Parts:    parts,
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	writeXMLResponse(w, d, http.StatusOK, s3types.CompleteMultipartUploadResult{
		Xmlns:    s3consts.XMLNS,
		Location: "/" + d.S3Info.Bucket + "/" + d.S3Info.Key,
		Bucket:   d.S3Info.Bucket,
		Key:      d.S3Info.Key,
		ETag:     result.ETag,
	})
}

// AbortMultipartUploadHandler drops a session and its parts.
// DELETE /{bucket}/{key}?uploadId={uploadId}
func (s *Server) AbortMultipartUploadHandler(d *data.Data, w http.ResponseWriter) {
	uploadID := d.Req.URL.Query().Get("uploadId")
	if err := s.svc.Multipart().AbortUpload(d.Ctx, d.S3Info.Bucket, d.S3Info.Key, uploadID); err != nil {
		s.handleError(w, d, err)
		return
	}
	writeSuccessNoContent(w)
}

// ListPartsHandler lists the parts of an open session.
// GET /{bucket}/{key}?uploadId={uploadId}&part-number-marker=&max-parts=
func (s *Server) ListPartsHandler(d *data.Data, w http.ResponseWriter) {
	query := d.Req.URL.Query()
	marker, err := parseIntParam(query, "part-number-marker", 0, s3err.ErrInvalidPartNumberMarker)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	maxParts, err := parseIntParam(query, "max-parts", defaultMaxParts, s3err.ErrInvalidMaxParts)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	if maxParts == 0 || maxParts > defaultMaxParts {
		maxParts = defaultMaxParts
	}

	uploadID := query.Get("uploadId")
	result, err := s.svc.Multipart().ListParts(d.Ctx, &multipart.ListPartsRequest{
		Bucket:           d.S3Info.Bucket,
		Key:              d.S3Info.Key,
		UploadID:         uploadID,
		PartNumberMarker: marker,
		MaxParts:         maxParts,
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	resp := s3types.ListPartsResult{
		Xmlns:                s3consts.XMLNS,
		Bucket:               d.S3Info.Bucket,
		Key:                  d.S3Info.Key,
		UploadID:             uploadID,
		StorageClass:         s3consts.StorageClassStandard,
		PartNumberMarker:     marker,
		NextPartNumberMarker: result.NextPartNumberMarker,
		MaxParts:             maxParts,
		IsTruncated:          result.IsTruncated,
	}
	for _, p := range result.Parts {
		resp.Parts = append(resp.Parts, s3types.Part{
			PartNumber:   p.PartNumber,
			LastModified: isoTime(p.LastModified),
			ETag:         p.ETag,
			Size:         p.Size,
		})
	}
	writeXMLResponse(w, d, http.StatusOK, resp)
}

// ListMultipartUploadsHandler lists the open sessions of a bucket.
// GET /{bucket}?uploads&prefix=&key-marker=&upload-id-marker=&max-uploads=
func (s *Server) ListMultipartUploadsHandler(d *data.Data, w http.ResponseWriter) {
	query := d.Req.URL.Query()
	maxUploads, err := parseIntParam(query, "max-uploads", defaultMaxParts, s3err.ErrInvalidMaxUploads)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	if maxUploads == 0 || maxUploads > defaultMaxParts {
		maxUploads = defaultMaxParts
	}

	req := &multipart.ListUploadsRequest{
		Bucket:         d.S3Info.Bucket,
		Prefix:         query.Get("prefix"),
		KeyMarker:      query.Get("key-marker"),
		UploadIDMarker: query.Get("upload-id-marker"),
		MaxUploads:     maxUploads,
	}
	result, err := s.svc.Multipart().ListUploads(d.Ctx, req)
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	resp := s3types.ListMultipartUploadsResult{
		Xmlns:              s3consts.XMLNS,
		Bucket:             d.S3Info.Bucket,
		KeyMarker:          req.KeyMarker,
		UploadIDMarker:     req.UploadIDMarker,
		NextKeyMarker:      result.NextKeyMarker,
		NextUploadIDMarker: result.NextUploadIDMarker,
		Prefix:             req.Prefix,
		MaxUploads:         maxUploads,
		IsTruncated:        result.IsTruncated,
	}
	for _, u := range result.Uploads {
		resp.Uploads = append(resp.Uploads, s3types.Upload{
			Key:          u.Key,
			UploadID:     u.UploadID,
			StorageClass: s3consts.StorageClassStandard,
			Initiated:    isoTime(u.Initiated),
		})
	}
	writeXMLResponse(w, d, http.StatusOK, resp)
}
