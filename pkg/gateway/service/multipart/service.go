// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package multipart keeps multipart upload sessions. A session is OPEN while
// parts arrive, COMPLETING while its parts are committed as one object, and
// then COMPLETED or ABORTED. Terminal sessions are kept for a retention
// period so that a repeated Abort still succeeds.
package multipart

import (
	"context"
	"io"
	"time"
)

// Service defines the interface for multipart upload operations.
type Service interface {
	// CreateUpload opens a session.
	// Returns ErrCodeTooManyUploads when the session cap is reached.
	CreateUpload(ctx context.Context, req *CreateUploadRequest) (*CreateUploadResult, error)

	// UploadPart stages one part. A part number that was already uploaded
	// is replaced.
	UploadPart(ctx context.Context, req *UploadPartRequest) (*UploadPartResult, error)

	// CompleteUpload commits the listed parts as one object.
	CompleteUpload(ctx context.Context, req *CompleteUploadRequest) (*CompleteUploadResult, error)

	// AbortUpload discards the session's parts. Aborting a finished session
	// succeeds without side effects.
	AbortUpload(ctx context.Context, bucket, key, uploadID string) error

	// ListParts lists the parts of an OPEN session.
	ListParts(ctx context.Context, req *ListPartsRequest) (*ListPartsResult, error)

	// ListUploads lists the OPEN sessions of a bucket.
	ListUploads(ctx context.Context, req *ListUploadsRequest) (*ListUploadsResult, error)

	// Snapshot describes every session the service remembers.
	Snapshot() []UploadSummary

	// Close discards the parts of unfinished sessions.
	Close() error
}

// CreateUploadRequest contains parameters for initiating a multipart upload
type CreateUploadRequest struct {
	Bucket       string
	Key          string
	ContentType  string
	UserMetadata map[string]string
}

// CreateUploadResult contains the result of initiating a multipart upload
type CreateUploadResult struct {
	UploadID string
}

// UploadPartRequest contains parameters for uploading a part
type UploadPartRequest struct {
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int
	Body       io.Reader
	// ContentLength is the decoded body length, -1 when unknown.
	ContentLength int64
	ContentMD5    string
	ContentSHA256 string
}

// UploadPartResult contains the result of uploading a part
type UploadPartResult struct {
	ETag string
}

// PartEntry represents a part in a complete request
type PartEntry struct {
	PartNumber int
	ETag       string
}

// CompleteUploadRequest contains the client's part list
type CompleteUploadRequest struct {
	Bucket   string
	Key      string
	UploadID string
	Parts    []PartEntry
}

// CompleteUploadResult contains the committed object
type CompleteUploadResult struct {
	ETag string
	Size int64
}

// ListPartsRequest contains parameters for listing parts
type ListPartsRequest struct {
	Bucket           string
	Key              string
	UploadID         string
	PartNumberMarker int
	MaxParts         int
}

// ListPartsResult is one page of parts
type ListPartsResult struct {
	Parts                []PartInfo
	NextPartNumberMarker int
	IsTruncated          bool
}

// PartInfo describes an uploaded part
type PartInfo struct {
	PartNumber   int
	ETag         string
	Size         int64
	LastModified time.Time
}

// ListUploadsRequest contains parameters for listing sessions
type ListUploadsRequest struct {
	Bucket         string
	Prefix         string
	KeyMarker      string
	UploadIDMarker string
	MaxUploads     int
}

// ListUploadsResult is one page of OPEN sessions
type ListUploadsResult struct {
	Uploads            []UploadSummary
	NextKeyMarker      string
	NextUploadIDMarker string
	IsTruncated        bool
}

// UploadSummary describes a session
type UploadSummary struct {
	UploadID  string    `json:"upload_id"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Parts     int       `json:"parts"`
	Bytes     int64     `json:"bytes"`
	Initiated time.Time `json:"initiated"`
}
