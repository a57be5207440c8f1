// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/filter"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3action"
)

// Server is the S3 front end of the gateway. Every request runs through the
// filter chain and is then dispatched to the handler of its action.
type Server struct {
	svc   *service.Service
	chain *filter.Chain

	handlers map[s3action.Action]Handler
}

// ServerConfig holds configuration for creating a Server
type ServerConfig struct {
	Service *service.Service
	Chain   *filter.Chain
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		svc:      cfg.Service,
		chain:    cfg.Chain,
		handlers: make(map[s3action.Action]Handler),
	}
	if s.chain == nil {
		s.chain = filter.NewChain()
	}
	for _, action := range s3action.All() {
		s.handlers[action] = s.handlerFor(action)
	}
	s.handlers[s3action.Unknown] = s.NotImplementedHandler
	return s
}

// handlerFor maps every action to its handler. Actions the gateway
// recognizes but does not implement answer NotImplemented.
func (s *Server) handlerFor(action s3action.Action) Handler {
	switch action {
	// Service
	case s3action.ListBuckets:
		return s.ListBucketsHandler

	// Bucket
	case s3action.CreateBucket:
		return s.CreateBucketHandler
	case s3action.DeleteBucket:
		return s.DeleteBucketHandler
	case s3action.HeadBucket:
		return s.HeadBucketHandler
	case s3action.GetBucketLocation:
		return s.GetBucketLocationHandler
	case s3action.ListObjects:
		return s.ListObjectsHandler
	case s3action.ListObjectsV2:
		return s.ListObjectsV2Handler
	case s3action.ListMultipartUploads:
		return s.ListMultipartUploadsHandler
	case s3action.DeleteObjects:
		return s.DeleteObjectsHandler

	// Object
	case s3action.PutObject:
		return s.PutObjectHandler
	case s3action.CopyObject:
		return s.CopyObjectHandler
	case s3action.GetObject:
		return s.GetObjectHandler
	case s3action.HeadObject:
		return s.HeadObjectHandler
	case s3action.DeleteObject:
		return s.DeleteObjectHandler

	// Multipart
	case s3action.CreateMultipartUpload:
		return s.CreateMultipartUploadHandler
	case s3action.UploadPart:
		return s.UploadPartHandler
	case s3action.ListParts:
		return s.ListPartsHandler
	case s3action.CompleteMultipartUpload:
		return s.CompleteMultipartUploadHandler
	case s3action.AbortMultipartUpload:
		return s.AbortMultipartUploadHandler

	case s3action.UploadPartCopy,
		s3action.GetBucketVersioning,
		s3action.PutBucketVersioning,
		s3action.ListObjectVersions,
		s3action.GetBucketAcl,
		s3action.PutBucketAcl,
		s3action.GetObjectAcl,
		s3action.PutObjectAcl,
		s3action.GetBucketPolicy,
		s3action.PutBucketPolicy,
		s3action.DeleteBucketPolicy,
		s3action.GetBucketEncryption,
		s3action.PutBucketEncryption,
		s3action.DeleteBucketEncryption,
		s3action.GetBucketLifecycleConfiguration,
		s3action.PutBucketLifecycleConfiguration,
		s3action.DeleteBucketLifecycle,
		s3action.GetBucketReplication,
		s3action.PutBucketReplication,
		s3action.DeleteBucketReplication,
		s3action.GetBucketTagging,
		s3action.PutBucketTagging,
		s3action.DeleteBucketTagging,
		s3action.GetObjectTagging,
		s3action.PutObjectTagging,
		s3action.DeleteObjectTagging,
		s3action.GetBucketCors,
		s3action.PutBucketCors,
		s3action.DeleteBucketCors,
		s3action.PostObject,
		s3action.SelectObjectContent,
		s3action.RestoreObject:
		return s.NotImplementedHandler
	}
	return nil
}

// Shutdown releases the service layer.
func (s *Server) Shutdown() error {
	if s.svc != nil {
		return s.svc.Close()
	}
	return nil
}
