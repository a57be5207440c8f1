// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"io"
	"net/http"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"
)

// CreateBucketHandler creates a namespace owned by the gateway wallet.
// PUT /{bucket}
func (s *Server) CreateBucketHandler(d *data.Data, w http.ResponseWriter) {
	// The optional CreateBucketConfiguration body only names a region.
	io.Copy(io.Discard, io.LimitReader(d.Req.Body, maxXMLBodySize))

	result, err := s.svc.Buckets().CreateBucket(d.Ctx, d.S3Info.Bucket)
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	w.Header().Set("Location", result.Location)
	w.WriteHeader(http.StatusOK)
}

// DeleteBucketHandler removes an empty bucket.
// DELETE /{bucket}
func (s *Server) DeleteBucketHandler(d *data.Data, w http.ResponseWriter) {
	if err := s.svc.Buckets().DeleteBucket(d.Ctx, d.S3Info.Bucket); err != nil {
		s.handleError(w, d, err)
		return
	}
	writeSuccessNoContent(w)
}

// HeadBucketHandler checks that a bucket exists.
// HEAD /{bucket}
func (s *Server) HeadBucketHandler(d *data.Data, w http.ResponseWriter) {
	if _, err := s.svc.Buckets().HeadBucket(d.Ctx, d.S3Info.Bucket); err != nil {
		s.handleError(w, d, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetBucketLocationHandler returns the configured region.
// GET /{bucket}?location
func (s *Server) GetBucketLocationHandler(d *data.Data, w http.ResponseWriter) {
	result, err := s.svc.Buckets().GetBucketLocation(d.Ctx, d.S3Info.Bucket)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	writeXMLResponse(w, d, http.StatusOK, s3types.LocationConstraint{
		Xmlns:    s3consts.XMLNS,
		Location: result.Location,
	})
}

// ListBucketsHandler lists the buckets of the gateway wallet.
// GET /
func (s *Server) ListBucketsHandler(d *data.Data, w http.ResponseWriter) {
	result, err := s.svc.Buckets().ListBuckets(d.Ctx)
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	owner := result.Owner.Hex()
	resp := s3types.ListAllMyBucketsResult{
		Xmlns: s3consts.XMLNS,
		Owner: s3types.Owner{ID: owner, DisplayName: owner},
	}
	for _, b := range result.Buckets {
		resp.Buckets = append(resp.Buckets, s3types.Bucket{
			Name:         b.Name,
			CreationDate: isoTime(b.CreationDate),
		})
	}
	writeXMLResponse(w, d, http.StatusOK, resp)
}
