// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"context"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
)

// Service defines the interface for bucket operations.
type Service interface {
	// CreateBucket creates a namespace owned by the gateway wallet.
	// Returns ErrCodeBucketAlreadyExists if the wallet already has the alias.
	CreateBucket(ctx context.Context, name string) (*CreateBucketResult, error)

	// DeleteBucket deletes an empty bucket.
	// Returns ErrCodeBucketNotEmpty if the bucket still holds objects.
	DeleteBucket(ctx context.Context, name string) error

	// HeadBucket resolves a bucket.
	// Returns ErrCodeNoSuchBucket if it does not exist.
	HeadBucket(ctx context.Context, name string) (backend.BucketInfo, error)

	// GetBucketLocation returns the configured region of an existing bucket.
	GetBucketLocation(ctx context.Context, name string) (*GetBucketLocationResult, error)

	// ListBuckets lists the buckets of the gateway wallet.
	// Returns ErrCodeNotImplemented in read-only mode.
	ListBuckets(ctx context.Context) (*ListBucketsResult, error)
}

// Backend is the part of the backend adapter the bucket service uses.
type Backend interface {
	Wallet() (network.Address, bool)
	ParseBucket(name string) (network.Address, string, error)
	CreateBucket(ctx context.Context, name string) (backend.BucketInfo, error)
	DeleteBucket(ctx context.Context, b backend.BucketInfo) error
}
