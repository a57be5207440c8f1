// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"context"
	"errors"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/index"
	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"
)

const DefaultRegion = "us-east-1"

// Config holds configuration for the bucket service
type Config struct {
	Backend Backend
	Index   *index.Index
	// Region answers GetBucketLocation.
	Region string
	// Locks serializes CreateBucket and DeleteBucket per bucket. nil creates
	// a private one.
	Locks *utils.KeyedMutex
}

// serviceImpl implements the Service interface
type serviceImpl struct {
	backend Backend
	index   *index.Index
	region  string
	locks   *utils.KeyedMutex
}

// NewService creates a new bucket service
func NewService(cfg Config) (Service, error) {
	if cfg.Backend == nil {
		return nil, errors.New("Backend is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("Index is required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Locks == nil {
		cfg.Locks = utils.NewKeyedMutex()
	}
	return &serviceImpl{
		backend: cfg.Backend,
		index:   cfg.Index,
		region:  cfg.Region,
		locks:   cfg.Locks,
	}, nil
}

// lock serializes bucket-level writes of name.
func (s *serviceImpl) lock(ctx context.Context, name string) (func(), error) {
	key, err := s.index.BucketKey(name)
	if err != nil {
		return nil, fromBackend(name, err)
	}
	return s.locks.Lock(ctx, "bucket:"+key)
}

func (s *serviceImpl) CreateBucket(ctx context.Context, name string) (*CreateBucketResult, error) {
	wallet, ok := s.backend.Wallet()
	if !ok {
		return nil, &Error{Code: ErrCodeNotImplemented, Message: "gateway is read-only"}
	}
	owner, _, err := s.backend.ParseBucket(name)
	if err != nil {
		return nil, fromBackend(name, err)
	}
	if owner != wallet {
		return nil, &Error{Code: ErrCodeAccessDenied, Message: "buckets can only be created for " + wallet.Hex()}
	}

	unlock, err := s.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.backend.CreateBucket(ctx, name)
	if err != nil {
		return nil, fromBackend(name, err)
	}
	s.index.BucketCreated(ctx, b)

	logger.Ctx(ctx).Info().
		Str("namespace", b.Address.Hex()).
		Msg("bucket created")
	return &CreateBucketResult{Bucket: b, Location: "/" + name}, nil
}

func (s *serviceImpl) DeleteBucket(ctx context.Context, name string) error {
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	b, err := s.index.RefreshBucket(ctx, name)
	if err != nil {
		return fromBackend(name, err)
	}

	if err := s.backend.DeleteBucket(ctx, b); err != nil {
		switch backend.KindOf(err) {
		case backend.KindConflict:
			return &Error{Code: ErrCodeBucketNotEmpty, Message: "bucket " + name + " is not empty", Err: err}
		case backend.KindNotFound:
			s.index.BucketDeleted(ctx, b)
		}
		return fromBackend(name, err)
	}
	s.index.BucketDeleted(ctx, b)

	logger.Ctx(ctx).Info().
		Str("namespace", b.Address.Hex()).
		Msg("bucket deleted")
	return nil
}

func (s *serviceImpl) HeadBucket(ctx context.Context, name string) (backend.BucketInfo, error) {
	b, err := s.index.Bucket(ctx, name)
	if err != nil {
		return backend.BucketInfo{}, fromBackend(name, err)
	}
	return b, nil
}

func (s *serviceImpl) GetBucketLocation(ctx context.Context, name string) (*GetBucketLocationResult, error) {
	if _, err := s.HeadBucket(ctx, name); err != nil {
		return nil, err
	}
	return &GetBucketLocationResult{Location: s.region}, nil
}

func (s *serviceImpl) ListBuckets(ctx context.Context) (*ListBucketsResult, error) {
	wallet, ok := s.backend.Wallet()
	if !ok {
		return nil, &Error{Code: ErrCodeNotImplemented, Message: "gateway is read-only"}
	}
	buckets, err := s.index.Buckets(ctx, wallet)
	if err != nil {
		return nil, fromBackend("list", err)
	}
	return &ListBucketsResult{Owner: wallet, Buckets: buckets}, nil
}
