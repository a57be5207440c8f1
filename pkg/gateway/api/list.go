// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/object"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"
)

type listParams struct {
	prefix       string
	delimiter    string
	maxKeys      int
	encodingType string
}

func parseListParams(d *data.Data) (listParams, error) {
	q := d.Req.URL.Query()
	p := listParams{
		prefix:       q.Get("prefix"),
		delimiter:    q.Get("delimiter"),
		encodingType: q.Get("encoding-type"),
	}
	if p.encodingType != "" && p.encodingType != "url" {
		return p, s3err.ErrInvalidArgument
	}
	maxKeys, err := parseIntParam(q, "max-keys", s3consts.DefaultMaxKeys, s3err.ErrInvalidMaxKeys)
	if err != nil {
		return p, err
	}
	p.maxKeys = maxKeys
	return p, nil
}

func (p listParams) listObjects(result *object.ListObjectsResult) ([]s3types.Object, []s3types.CommonPrefix) {
	objects := make([]s3types.Object, 0, len(result.Objects))
	for _, o := range result.Objects {
		objects = append(objects, s3types.Object{
			Key:          encodeKey(o.Key, p.encodingType),
			LastModified: isoTime(o.LastModified),
			ETag:         o.ETag,
			Size:         o.Size,
			StorageClass: s3consts.StorageClassStandard,
		})
	}
	var prefixes []s3types.CommonPrefix
	for _, cp := range result.CommonPrefixes {
		prefixes = append(prefixes, s3types.CommonPrefix{Prefix: encodeKey(cp, p.encodingType)})
	}
	return objects, prefixes
}

// ListObjectsHandler lists a bucket (v1).
// GET /{bucket}?prefix=&delimiter=&marker=&max-keys=
func (s *Server) ListObjectsHandler(d *data.Data, w http.ResponseWriter) {
	p, err := parseListParams(d)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	marker := d.Req.URL.Query().Get("marker")

	result, err := s.svc.Objects().ListObjects(d.Ctx, &object.ListObjectsRequest{
		Bucket:     d.S3Info.Bucket,
		Prefix:     p.prefix,
		Delimiter:  p.delimiter,
		StartAfter: marker,
		MaxKeys:    p.maxKeys,
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	contents, prefixes := p.listObjects(result)
	resp := s3types.ListObjectsResult{
		Xmlns:          s3consts.XMLNS,
		Name:           d.S3Info.Bucket,
		Prefix:         encodeKey(p.prefix, p.encodingType),
		Marker:         encodeKey(marker, p.encodingType),
		Delimiter:      encodeKey(p.delimiter, p.encodingType),
		MaxKeys:        p.maxKeys,
		IsTruncated:    result.IsTruncated,
		EncodingType:   p.encodingType,
		Contents:       contents,
		CommonPrefixes: prefixes,
	}
	if result.IsTruncated {
		resp.NextMarker = encodeKey(result.NextMarker, p.encodingType)
	}
	writeXMLResponse(w, d, http.StatusOK, resp)
}

// ListObjectsV2Handler lists a bucket (v2).
// GET /{bucket}?list-type=2&prefix=&delimiter=&continuation-token=&start-after=&max-keys=
func (s *Server) ListObjectsV2Handler(d *data.Data, w http.ResponseWriter) {
	p, err := parseListParams(d)
	if err != nil {
		s.handleError(w, d, err)
		return
	}
	q := d.Req.URL.Query()
	token := q.Get("continuation-token")
	startAfter := q.Get("start-after")

	after := startAfter
	if token != "" {
		if after, err = object.DecodeContinuationToken(token); err != nil {
			s.handleError(w, d, err)
			return
		}
	}

	result, err := s.svc.Objects().ListObjects(d.Ctx, &object.ListObjectsRequest{
		Bucket:     d.S3Info.Bucket,
		Prefix:     p.prefix,
		Delimiter:  p.delimiter,
		StartAfter: after,
		MaxKeys:    p.maxKeys,
	})
	if err != nil {
		s.handleError(w, d, err)
		return
	}

	contents, prefixes := p.listObjects(result)
	resp := s3types.ListObjectsV2Result{
		Xmlns:             s3consts.XMLNS,
		Name:              d.S3Info.Bucket,
		Prefix:            encodeKey(p.prefix, p.encodingType),
		Delimiter:         encodeKey(p.delimiter, p.encodingType),
		MaxKeys:           p.maxKeys,
		KeyCount:          len(contents) + len(prefixes),
		IsTruncated:       result.IsTruncated,
		EncodingType:      p.encodingType,
		ContinuationToken: token,
		StartAfter:        encodeKey(startAfter, p.encodingType),
		Contents:          contents,
		CommonPrefixes:    prefixes,
	}
	if result.IsTruncated {
		resp.NextContinuationToken = object.EncodeContinuationToken(result.NextMarker)
	}
	writeXMLResponse(w, d, http.StatusOK, resp)
}
