// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package index caches bucket and object metadata in front of the backend.
// Entries are written only after the backend confirms a change, and misses
// for the same entry are coalesced into one backend call.
package index

import (
	"context"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/network"

	"golang.org/x/sync/singleflight"
)

// Store holds index entries. Implementations must be safe for concurrent
// use. A missing entry is reported with ok=false, not an error.
type Store interface {
	Bucket(ctx context.Context, key string) (b backend.BucketInfo, ok bool, err error)
	SetBucket(ctx context.Context, key string, b backend.BucketInfo) error
	// DeleteBucket drops the bucket entry and every object entry of ns.
	DeleteBucket(ctx context.Context, key string, ns network.Address) error

	Object(ctx context.Context, ns network.Address, key string) (o backend.ObjectInfo, ok bool, err error)
	SetObject(ctx context.Context, ns network.Address, o backend.ObjectInfo) error
	DeleteObject(ctx context.Context, ns network.Address, key string) error

	Close() error
}

// Source is the authoritative state behind the index.
type Source interface {
	ParseBucket(name string) (network.Address, string, error)
	ResolveBucket(ctx context.Context, name string) (backend.BucketInfo, error)
	BucketsOf(ctx context.Context, owner network.Address) ([]backend.BucketInfo, error)
	Head(ctx context.Context, b backend.BucketInfo, key string) (backend.ObjectInfo, error)
}

type Index struct {
	store Store
	src   Source
	group singleflight.Group
}

func New(store Store, src Source) *Index {
	return &Index{store: store, src: src}
}

func (ix *Index) Close() error {
	return ix.store.Close()
}

func bucketKey(owner network.Address, alias string) string {
	return owner.Hex() + "." + alias
}

// BucketKey is the canonical index key of an S3 bucket name.
func (ix *Index) BucketKey(name string) (string, error) {
	owner, alias, err := ix.src.ParseBucket(name)
	if err != nil {
		return "", err
	}
	return bucketKey(owner, alias), nil
}

// Bucket resolves name from the index, falling back to the backend.
func (ix *Index) Bucket(ctx context.Context, name string) (backend.BucketInfo, error) {
	key, err := ix.BucketKey(name)
	if err != nil {
		return backend.BucketInfo{}, err
	}
	b, ok, err := ix.store.Bucket(ctx, key)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("index_key", key).Msg("index read failed")
	}
	if ok {
		indexHits.WithLabelValues("bucket").Inc()
		return b, nil
	}
	indexMisses.WithLabelValues("bucket").Inc()
	return ix.loadBucket(ctx, key, name)
}

// RefreshBucket resolves name against the backend and updates the index.
func (ix *Index) RefreshBucket(ctx context.Context, name string) (backend.BucketInfo, error) {
	key, err := ix.BucketKey(name)
	if err != nil {
		return backend.BucketInfo{}, err
	}
	return ix.loadBucket(ctx, key, name)
}

func (ix *Index) loadBucket(ctx context.Context, key, name string) (backend.BucketInfo, error) {
	v, err, _ := ix.group.Do("b:"+key, func() (any, error) {
		b, err := ix.src.ResolveBucket(ctx, name)
		if err != nil {
			if backend.KindOf(err) == backend.KindNotFound {
				ix.dropBucket(ctx, key, network.Address{})
			}
			return nil, err
		}
		ix.setBucket(ctx, key, b)
		return b, nil
	})
	if err != nil {
		return backend.BucketInfo{}, err
	}
	return v.(backend.BucketInfo), nil
}

// Buckets lists the buckets of owner from the backend and refreshes their
// entries.
func (ix *Index) Buckets(ctx context.Context, owner network.Address) ([]backend.BucketInfo, error) {
	buckets, err := ix.src.BucketsOf(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, b := range buckets {
		ix.setBucket(ctx, bucketKey(b.Owner, b.Alias), b)
	}
	return buckets, nil
}

// BucketCreated records a bucket the backend confirmed.
func (ix *Index) BucketCreated(ctx context.Context, b backend.BucketInfo) {
	ix.setBucket(ctx, bucketKey(b.Owner, b.Alias), b)
}

// BucketDeleted drops a bucket and its objects.
func (ix *Index) BucketDeleted(ctx context.Context, b backend.BucketInfo) {
	ix.dropBucket(ctx, bucketKey(b.Owner, b.Alias), b.Address)
}

func (ix *Index) setBucket(ctx context.Context, key string, b backend.BucketInfo) {
	if err := ix.store.SetBucket(ctx, key, b); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("index_key", key).Msg("index write failed")
	}
}

func (ix *Index) dropBucket(ctx context.Context, key string, ns network.Address) {
	if err := ix.store.DeleteBucket(ctx, key, ns); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("index_key", key).Msg("index delete failed")
	}
}

func objectKey(ns network.Address, key string) string {
	return ns.Hex() + "/" + key
}

// Object returns object metadata from the index, falling back to the
// backend.
func (ix *Index) Object(ctx context.Context, b backend.BucketInfo, key string) (backend.ObjectInfo, error) {
	o, ok, err := ix.store.Object(ctx, b.Address, key)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("index_key", objectKey(b.Address, key)).Msg("index read failed")
	}
	if ok {
		indexHits.WithLabelValues("object").Inc()
		return o, nil
	}
	indexMisses.WithLabelValues("object").Inc()
	return ix.RefreshObject(ctx, b, key)
}

// RefreshObject reads object metadata from the backend and updates the
// index. Conditional requests and destructive operations use it.
func (ix *Index) RefreshObject(ctx context.Context, b backend.BucketInfo, key string) (backend.ObjectInfo, error) {
	v, err, _ := ix.group.Do("o:"+objectKey(b.Address, key), func() (any, error) {
		o, err := ix.src.Head(ctx, b, key)
		if err != nil {
			if backend.KindOf(err) == backend.KindNotFound {
				ix.ObjectDeleted(ctx, b, key)
			}
			return nil, err
		}
		ix.ObjectWritten(ctx, b, o)
		return o, nil
	})
	if err != nil {
		return backend.ObjectInfo{}, err
	}
	return v.(backend.ObjectInfo), nil
}

// ObjectWritten records an object the backend confirmed.
func (ix *Index) ObjectWritten(ctx context.Context, b backend.BucketInfo, o backend.ObjectInfo) {
	if err := ix.store.SetObject(ctx, b.Address, o); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("index_key", objectKey(b.Address, o.Key)).Msg("index write failed")
	}
}

// ObjectDeleted drops an object entry.
func (ix *Index) ObjectDeleted(ctx context.Context, b backend.BucketInfo, key string) {
	if err := ix.store.DeleteObject(ctx, b.Address, key); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("index_key", objectKey(b.Address, key)).Msg("index delete failed")
	}
}
