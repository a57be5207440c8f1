// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3consts

// http://docs.aws.amazon.com/AmazonS3/latest/dev/UploadingObjects.html
const (
	// MaxObjectSize is the maximum object size per PUT request (5GiB)
	MaxObjectSize = 1024 * 1024 * 1024 * 5
	// MinPartSize applies to every multipart part except the last (5MiB)
	MinPartSize = 1024 * 1024 * 5
	// MaxPartID is the maximum Part ID for multipart upload (10000)
	// Acceptable values range from 1 to 10000 inclusive
	MaxPartID = 10000
	// MaxKeyLength is the maximum object key length in bytes
	MaxKeyLength = 1024
	// MaxUserMetadataSize bounds the total size of x-amz-meta-* headers
	MaxUserMetadataSize = 2 * 1024
	// DefaultMaxKeys is the default and the cap for list page sizes
	DefaultMaxKeys = 1000
	// MaxDeleteObjects is the maximum number of keys in one DeleteObjects call
	MaxDeleteObjects = 1000

	// XMLNS is the S3 XML namespace attribute for response bodies
	XMLNS = "http://s3.amazonaws.com/doc/2006-03-01/"

	// --- Core request / tracing ---
	XAmzDate      = "x-amz-date"
	XAmzRequestID = "x-amz-request-id"
	XAmzId2       = "x-amz-id-2"

	// --- Authorization ---
	XAmzAlgorithm     = "x-amz-algorithm"
	XAmzCredential    = "x-amz-credential"
	XAmzSignedHeaders = "x-amz-signedheaders"
	XAmzSignature     = "x-amz-signature"
	XAmzExpires       = "x-amz-expires"

	// --- Content / payload ---
	XAmzContentSHA256 = "x-amz-content-sha256"
	XAmzDecodedLength = "x-amz-decoded-content-length"
	XAmzTrailer       = "x-amz-trailer"

	// --- Metadata ---
	XAmzMetaPrefix = "x-amz-meta-"

	// --- Copy source ---
	XAmzCopySource                  = "x-amz-copy-source"
	XAmzCopySourceRange             = "x-amz-copy-source-range"
	XAmzCopySourceIfMatch           = "x-amz-copy-source-if-match"
	XAmzCopySourceIfNoneMatch       = "x-amz-copy-source-if-none-match"
	XAmzCopySourceIfModifiedSince   = "x-amz-copy-source-if-modified-since"
	XAmzCopySourceIfUnmodifiedSince = "x-amz-copy-source-if-unmodified-since"
	XAmzMetadataDirective           = "x-amz-metadata-directive"

	// --- Checksum ---
	XAmzChecksumCRC32     = "x-amz-checksum-crc32"
	XAmzChecksumCRC32C    = "x-amz-checksum-crc32c"
	XAmzChecksumCRC64NVMe = "x-amz-checksum-crc64nvme"
	XAmzChecksumSHA256    = "x-amz-checksum-sha256"
	XAmzSdkChecksumAlgo   = "x-amz-sdk-checksum-algorithm"

	// --- Gateway extensions ---
	// XAmzContentAddress exposes the network blob hash of an object.
	XAmzContentAddress = "x-amz-meta-basin-content-address"
)

// Payload hash values for x-amz-content-sha256.
const (
	UnsignedPayload                 = "UNSIGNED-PAYLOAD"
	StreamingUnsignedPayloadTrailer = "STREAMING-UNSIGNED-PAYLOAD-TRAILER"
	StreamingSignedPayload          = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD"
	StreamingSignedPayloadTrailer   = "STREAMING-AWS4-HMAC-SHA256-PAYLOAD-TRAILER"
	EmptySHA256                     = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

const (
	ContentEncodingAwsChunked = "aws-chunked"
	MetadataDirectiveCopy     = "COPY"
	MetadataDirectiveReplace  = "REPLACE"
	StorageClassStandard      = "STANDARD"
	DefaultContentType        = "binary/octet-stream"
)

// Time layouts used in headers and XML bodies.
const (
	HTTPTimeFormat    = "Mon, 02 Jan 2006 15:04:05 GMT"
	ISO8601TimeFormat = "2006-01-02T15:04:05.000Z"
)
