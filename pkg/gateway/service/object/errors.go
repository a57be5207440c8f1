// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"
)

// ErrorCode represents a domain-level error code
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeNoSuchBucket
	ErrCodeNoSuchKey
	ErrCodeInvalidBucketName
	ErrCodeInvalidArgument
	ErrCodeInvalidCopyDest
	ErrCodePreconditionFailed
	ErrCodeNotModified
	ErrCodeRangeNotSatisfiable
	ErrCodeIncompleteBody
	ErrCodeEntityTooLarge
	ErrCodeInvalidDigest
	ErrCodeBadDigest
	ErrCodeSHA256Mismatch
	ErrCodeChecksumMismatch
	ErrCodeSignatureMismatch
	ErrCodeNotImplemented
	ErrCodeUnavailable
	ErrCodeInternalError
)

// Error represents a domain-level error
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

// ToS3Error converts an Error to an S3 error code
func (e *Error) ToS3Error() s3err.ErrorCode {
	switch e.Code {
	case ErrCodeNoSuchBucket:
		return s3err.ErrNoSuchBucket
	case ErrCodeNoSuchKey:
		return s3err.ErrNoSuchKey
	case ErrCodeInvalidBucketName:
		return s3err.ErrInvalidBucketName
	case ErrCodeInvalidArgument:
		return s3err.ErrInvalidArgument
	case ErrCodeInvalidCopyDest:
		return s3err.ErrInvalidCopyDest
	case ErrCodePreconditionFailed:
		return s3err.ErrPreconditionFailed
	case ErrCodeNotModified:
		return s3err.ErrNotModified
	case ErrCodeRangeNotSatisfiable:
		return s3err.ErrInvalidRange
	case ErrCodeIncompleteBody:
		return s3err.ErrIncompleteBody
	case ErrCodeEntityTooLarge:
		return s3err.ErrEntityTooLarge
	case ErrCodeInvalidDigest:
		return s3err.ErrInvalidDigest
	case ErrCodeBadDigest:
		return s3err.ErrBadDigest
	case ErrCodeSHA256Mismatch:
		return s3err.ErrContentSHA256Mismatch
	case ErrCodeChecksumMismatch:
		return s3err.ErrChecksumMismatch
	case ErrCodeSignatureMismatch:
		return s3err.ErrSignatureDoesNotMatch
	case ErrCodeNotImplemented:
		return s3err.ErrNotImplemented
	case ErrCodeUnavailable:
		return s3err.ErrServiceUnavailable
	default:
		return s3err.ErrInternalError
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// fromBackend classifies an adapter error. notFound is the code for
// KindNotFound, which depends on what was looked up. Context errors are
// returned unchanged.
func fromBackend(notFound ErrorCode, msg string, err error) error {
	if isContextErr(err) {
		return err
	}
	e := &Error{Code: ErrCodeInternalError, Message: msg, Err: err}
	switch backend.KindOf(err) {
	case backend.KindNotFound:
		e.Code = notFound
	case backend.KindUnavailable:
		e.Code = ErrCodeUnavailable
	case backend.KindInvalid:
		e.Code = ErrCodeInvalidArgument
		switch {
		case errors.Is(err, backend.ErrReadOnly):
			e.Code = ErrCodeNotImplemented
		case notFound == ErrCodeNoSuchBucket:
			e.Code = ErrCodeInvalidBucketName
		}
	}
	return e
}

// fromStaging classifies a failure to stage a request body.
func fromStaging(err error) error {
	if isContextErr(err) {
		return err
	}
	e := &Error{Code: ErrCodeInternalError, Message: "stage body", Err: err}
	switch {
	case errors.Is(err, staging.ErrIncompleteBody), errors.Is(err, io.ErrUnexpectedEOF):
		e.Code = ErrCodeIncompleteBody
	case errors.Is(err, signature.ErrInvalidChunkFormat), errors.Is(err, signature.ErrInvalidTrailerFormat):
		e.Code = ErrCodeIncompleteBody
	case errors.Is(err, staging.ErrEntityTooLarge), errors.Is(err, signature.ErrChunkTooLarge):
		e.Code = ErrCodeEntityTooLarge
	case errors.Is(err, staging.ErrCapacity):
		e.Code = ErrCodeUnavailable
	case errors.Is(err, signature.ErrChunkSignatureMismatch), errors.Is(err, signature.ErrTrailerSignatureMismatch):
		e.Code = ErrCodeSignatureMismatch
	}
	return e
}

func noSuchKey(key string) *Error {
	return &Error{Code: ErrCodeNoSuchKey, Message: "key " + key + " does not exist"}
}
