// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the business logic layer of the gateway. It
// keeps HTTP handling apart from the staging, index and backend calls that
// implement each S3 operation.
//
// Usage:
//
//	svc, err := service.NewService(service.Config{
//	    Adapter: adapter,
//	    Index:   ix,
//	    Stager:  stager,
//	})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	result, err := svc.Objects().PutObject(ctx, req)
package service

import (
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/bucket"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/multipart"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/object"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"
)

// Service composes the bucket, object and multipart services over one
// adapter, index and staging directory.
type Service struct {
	cfg Config

	objects   object.Service
	buckets   bucket.Service
	multipart multipart.Service
}

// NewService creates the gateway service layer.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// PutObject, DeleteObject, CopyObject and CompleteMultipartUpload
	// serialize on the same per-key locks; bucket writes use "bucket:" keys.
	locks := utils.NewKeyedMutex()

	objectSvc, err := object.NewService(object.Config{
		Backend: cfg.Adapter,
		Index:   cfg.Index,
		Stager:  cfg.Stager,
		Locks:   locks,
	})
	if err != nil {
		return nil, err
	}

	bucketSvc, err := bucket.NewService(bucket.Config{
		Backend: cfg.Adapter,
		Index:   cfg.Index,
		Region:  cfg.Region,
		Locks:   locks,
	})
	if err != nil {
		return nil, err
	}

	multipartSvc, err := multipart.NewService(multipart.Config{
		Backend:    cfg.Adapter,
		Index:      cfg.Index,
		Stager:     cfg.Stager,
		Locks:      locks,
		MaxUploads: cfg.MaxUploads,
		Retention:  cfg.UploadRetention,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:       cfg,
		objects:   objectSvc,
		buckets:   bucketSvc,
		multipart: multipartSvc,
	}, nil
}

// Close drops unfinished multipart sessions and their staged parts.
func (s *Service) Close() error {
	return s.multipart.Close()
}

// Objects returns the object operations service.
func (s *Service) Objects() object.Service {
	return s.objects
}

// Buckets returns the bucket operations service.
func (s *Service) Buckets() bucket.Service {
	return s.buckets
}

// Multipart returns the multipart upload operations service.
func (s *Service) Multipart() multipart.Service {
	return s.multipart
}

// ReadOnly reports whether the gateway runs without a signer.
func (s *Service) ReadOnly() bool {
	return s.cfg.Adapter.ReadOnly()
}
