// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/base64"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
)

// EncodeContinuationToken makes a ListObjectsV2 token from the last key or
// common prefix of a page.
func EncodeContinuationToken(marker string) string {
	if marker == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(marker))
}

// DecodeContinuationToken reverses EncodeContinuationToken.
func DecodeContinuationToken(token string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", &Error{Code: ErrCodeInvalidArgument, Message: "invalid continuation token", Err: err}
	}
	return string(b), nil
}

func (s *serviceImpl) ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResult, error) {
	b, err := s.bucket(ctx, req.Bucket)
	if err != nil {
		return nil, err
	}

	maxKeys := req.MaxKeys
	switch {
	case maxKeys < 0:
		return nil, &Error{Code: ErrCodeInvalidArgument, Message: "max-keys must not be negative"}
	case maxKeys == 0:
		return &ListObjectsResult{}, nil
	case maxKeys > s3consts.DefaultMaxKeys:
		maxKeys = s3consts.DefaultMaxKeys
	}

	page, err := s.backend.List(ctx, b, backend.ListOptions{
		Prefix:     req.Prefix,
		Delimiter:  req.Delimiter,
		StartAfter: req.StartAfter,
		MaxKeys:    maxKeys,
	})
	if err != nil {
		return nil, fromBackend(ErrCodeNoSuchBucket, "list "+req.Bucket, err)
	}

	res := &ListObjectsResult{
		Objects:        page.Objects,
		CommonPrefixes: page.CommonPrefixes,
		IsTruncated:    page.Truncated,
	}
	if page.Truncated {
		res.NextMarker = page.NextStartAfter
	}
	return res, nil
}
