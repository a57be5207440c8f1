// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"io"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
)

// Service defines the interface for object operations.
// This separates business logic from HTTP handling.
type Service interface {
	// PutObject stages the body, verifies the digests the client declared
	// and commits the object.
	PutObject(ctx context.Context, req *PutObjectRequest) (*PutObjectResult, error)

	// GetObject evaluates conditionals and opens the object bytes. The caller
	// must close Body.
	GetObject(ctx context.Context, req *GetObjectRequest) (*GetObjectResult, error)

	// HeadObject is GetObject without the body.
	HeadObject(ctx context.Context, req *GetObjectRequest) (*GetObjectResult, error)

	// DeleteObject removes a key.
	// Returns ErrCodeNoSuchKey when the key does not exist.
	DeleteObject(ctx context.Context, bucket, key string) error

	// DeleteObjects removes up to 1000 keys, collecting per-key errors.
	DeleteObjects(ctx context.Context, req *DeleteObjectsRequest) (*DeleteObjectsResult, error)

	// CopyObject binds a key to the content of another object.
	CopyObject(ctx context.Context, req *CopyObjectRequest) (*CopyObjectResult, error)

	// ListObjects returns one page of a bucket listing.
	ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResult, error)
}

// Backend is the part of the backend adapter the object service uses.
type Backend interface {
	Put(ctx context.Context, b backend.BucketInfo, key string, blob backend.Blob, meta backend.ObjectMeta) (backend.ObjectInfo, error)
	Copy(ctx context.Context, src backend.ObjectInfo, dst backend.BucketInfo, dstKey string, meta backend.ObjectMeta) (backend.ObjectInfo, error)
	Get(ctx context.Context, b backend.BucketInfo, o backend.ObjectInfo, rng *network.ByteRange) (io.ReadCloser, error)
	Delete(ctx context.Context, b backend.BucketInfo, key string) error
	List(ctx context.Context, b backend.BucketInfo, opts backend.ListOptions) (backend.ListPage, error)
}
