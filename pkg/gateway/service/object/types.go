// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"io"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"
)

// PutObjectRequest contains parameters for storing an object
type PutObjectRequest struct {
	Bucket string
	Key    string
	Body   io.Reader
	// ContentLength is the decoded body length, -1 when unknown.
	ContentLength int64
	ContentType   string
	UserMetadata  map[string]string

	// ContentMD5 is the raw Content-MD5 header.
	ContentMD5 string
	// ContentSHA256 is the x-amz-content-sha256 header. Only hex digests are
	// checked.
	ContentSHA256 string
	// Checksum is a declared x-amz-checksum-*. An algorithm with an empty
	// value expects the value in a trailer.
	Checksum s3types.ExpectedChecksum
	// Trailers returns the trailing headers once Body hit EOF.
	Trailers func() map[string]string
}

// PutObjectResult contains the result of storing an object
type PutObjectResult struct {
	Object   backend.ObjectInfo
	Checksum s3types.ExpectedChecksum
}

// GetObjectRequest contains parameters for reading an object
type GetObjectRequest struct {
	Bucket     string
	Key        string
	Range      string // raw Range header
	Conditions Conditions
}

// GetObjectResult contains object metadata and, for GET, its bytes
type GetObjectResult struct {
	Object backend.ObjectInfo
	// Range is the resolved byte range, nil for the whole object.
	Range *network.ByteRange
	Body  io.ReadCloser
}

// DeleteObjectsRequest contains the keys of a batch delete
type DeleteObjectsRequest struct {
	Bucket string
	Keys   []string
}

// DeleteObjectsResult reports each key as deleted or failed
type DeleteObjectsResult struct {
	Deleted []string
	Errors  []DeleteError
}

// DeleteError is a failed key of a batch delete
type DeleteError struct {
	Key string
	Err error
}

// CopyObjectRequest contains parameters for a server-side copy
type CopyObjectRequest struct {
	SrcBucket string
	SrcKey    string
	DstBucket string
	DstKey    string

	// ReplaceMetadata takes ContentType and UserMetadata from the request
	// instead of the source.
	ReplaceMetadata bool
	ContentType     string
	UserMetadata    map[string]string

	// SourceConditions are the x-amz-copy-source-if-* headers.
	SourceConditions Conditions
}

// CopyObjectResult contains the new object
type CopyObjectResult struct {
	Object backend.ObjectInfo
}

// ListObjectsRequest selects one page of a listing. StartAfter is the
// decoded marker, continuation token or start-after.
type ListObjectsRequest struct {
	Bucket     string
	Prefix     string
	Delimiter  string
	StartAfter string
	MaxKeys    int
}

// ListObjectsResult is one page of a listing
type ListObjectsResult struct {
	Objects        []backend.ObjectInfo
	CommonPrefixes []string
	IsTruncated    bool
	// NextMarker is the last key or common prefix returned when truncated.
	NextMarker string
}
