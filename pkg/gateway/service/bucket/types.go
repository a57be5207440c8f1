// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package bucket

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
)

// CreateBucketResult contains the result of creating a bucket
type CreateBucketResult struct {
	Bucket   backend.BucketInfo
	Location string
}

// GetBucketLocationResult contains the bucket's location
type GetBucketLocationResult struct {
	Location string
}

// ListBucketsResult contains the buckets of one owner
type ListBucketsResult struct {
	Owner   network.Address
	Buckets []backend.BucketInfo
}

// Error codes for bucket operations
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeNoSuchBucket
	ErrCodeBucketAlreadyExists
	ErrCodeBucketNotEmpty
	ErrCodeInvalidBucketName
	ErrCodeAccessDenied
	ErrCodeNotImplemented
	ErrCodeUnavailable
	ErrCodeInternalError
)

// Error represents a bucket service error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ToS3Error converts a bucket error to an S3 error code
func (e *Error) ToS3Error() s3err.ErrorCode {
	switch e.Code {
	case ErrCodeNoSuchBucket:
		return s3err.ErrNoSuchBucket
	case ErrCodeBucketAlreadyExists:
		return s3err.ErrBucketAlreadyExists
	case ErrCodeBucketNotEmpty:
		return s3err.ErrBucketNotEmpty
	case ErrCodeInvalidBucketName:
		return s3err.ErrInvalidBucketName
	case ErrCodeAccessDenied:
		return s3err.ErrAccessDenied
	case ErrCodeNotImplemented:
		return s3err.ErrNotImplemented
	case ErrCodeUnavailable:
		return s3err.ErrServiceUnavailable
	default:
		return s3err.ErrInternalError
	}
}

// fromBackend classifies an adapter error. Context errors are returned
// unchanged so callers can tell a client disconnect from a failure.
func fromBackend(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e := &Error{Code: ErrCodeInternalError, Message: "bucket " + name, Err: err}
	switch backend.KindOf(err) {
	case backend.KindNotFound:
		e.Code = ErrCodeNoSuchBucket
	case backend.KindConflict:
		e.Code = ErrCodeBucketAlreadyExists
	case backend.KindUnavailable:
		e.Code = ErrCodeUnavailable
	case backend.KindInvalid:
		e.Code = ErrCodeInvalidBucketName
		if errors.Is(err, backend.ErrReadOnly) {
			e.Code = ErrCodeNotImplemented
		}
	}
	return e
}
