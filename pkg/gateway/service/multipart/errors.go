// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"context"
	"errors"
	"io"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"
)

// Error codes for multipart operations
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeNoSuchUpload
	ErrCodeNoSuchBucket
	ErrCodeInvalidBucketName
	ErrCodeInvalidPart
	ErrCodeInvalidPartOrder
	ErrCodeInvalidPartNumber
	ErrCodeEntityTooSmall
	ErrCodeEntityTooLarge
	ErrCodeIncompleteBody
	ErrCodeInvalidDigest
	ErrCodeBadDigest
	ErrCodeSHA256Mismatch
	ErrCodeSignatureMismatch
	ErrCodeInvalidArgument
	ErrCodeTooManyUploads
	ErrCodeUnavailable
	ErrCodeNotImplemented
	ErrCodeInternalError
)

// Error represents a multipart service error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ToS3Error converts a multipart error to an S3 error code
func (e *Error) ToS3Error() s3err.ErrorCode {
	switch e.Code {
	case ErrCodeNoSuchUpload:
		return s3err.ErrNoSuchUpload
	case ErrCodeNoSuchBucket:
		return s3err.ErrNoSuchBucket
	case ErrCodeInvalidBucketName:
		return s3err.ErrInvalidBucketName
	case ErrCodeInvalidPart:
		return s3err.ErrInvalidPart
	case ErrCodeInvalidPartOrder:
		return s3err.ErrInvalidPartOrder
	case ErrCodeInvalidPartNumber:
		return s3err.ErrInvalidPartNumber
	case ErrCodeEntityTooSmall:
		return s3err.ErrEntityTooSmall
	case ErrCodeEntityTooLarge:
		return s3err.ErrEntityTooLarge
	case ErrCodeIncompleteBody:
		return s3err.ErrIncompleteBody
	case ErrCodeInvalidDigest:
		return s3err.ErrInvalidDigest
	case ErrCodeBadDigest:
		return s3err.ErrBadDigest
	case ErrCodeSHA256Mismatch:
		return s3err.ErrContentSHA256Mismatch
	case ErrCodeSignatureMismatch:
		return s3err.ErrSignatureDoesNotMatch
	case ErrCodeInvalidArgument:
		return s3err.ErrInvalidArgument
	case ErrCodeTooManyUploads, ErrCodeUnavailable:
		return s3err.ErrServiceUnavailable
	case ErrCodeNotImplemented:
		return s3err.ErrNotImplemented
	default:
		return s3err.ErrInternalError
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func noSuchUpload(id string) *Error {
	return &Error{Code: ErrCodeNoSuchUpload, Message: "upload " + id + " does not exist"}
}

func fromBackend(msg string, err error) error {
	if isContextErr(err) {
		return err
	}
	e := &Error{Code: ErrCodeInternalError, Message: msg, Err: err}
	switch backend.KindOf(err) {
	case backend.KindNotFound:
		e.Code = ErrCodeNoSuchBucket
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

func fromStaging(err error) error {
	if isContextErr(err) {
		return err
	}
	e := &Error{Code: ErrCodeInternalError, Message: "stage part", Err: err}
	switch {
	case errors.Is(err, staging.ErrIncompleteBody), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, signature.ErrInvalidChunkFormat), errors.Is(err, signature.ErrInvalidTrailerFormat):
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
