// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"net/http"
	"strings"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
)

const (
	AuthHeaderV4 = "AWS4-HMAC-SHA256"
	AuthHeaderV2 = "AWS"

	Iso8601BasicFormat = "20060102T150405Z"
	Iso8601DateFormat  = "20060102"
)

type AuthType int

const (
	AuthTypeNone AuthType = iota
	AuthTypeAnonymous
	AuthTypeV2
	AuthTypeV4
	AuthTypePresignedV2
	AuthTypePresignedV4
	AuthTypeStreamingSigned
	AuthTypeStreamingSignedTrailer
	AuthTypeStreamingUnsignedTrailer
)

func (a AuthType) String() string {
	switch a {
	case AuthTypeNone:
		return "none"
	case AuthTypeAnonymous:
		return "anonymous"
	case AuthTypeV2:
		return "v2"
	case AuthTypeV4:
		return "v4"
	case AuthTypePresignedV2:
		return "presigned_v2"
	case AuthTypePresignedV4:
		return "presigned_v4"
	case AuthTypeStreamingSigned:
		return "streaming_signed"
	case AuthTypeStreamingSignedTrailer:
		return "streaming_signed_trailer"
	case AuthTypeStreamingUnsignedTrailer:
		return "streaming_unsigned_trailer"
	default:
		return "unknown"
	}
}

// IsStreaming reports whether the body uses aws-chunked framing.
func (a AuthType) IsStreaming() bool {
	return a == AuthTypeStreamingSigned ||
		a == AuthTypeStreamingSignedTrailer ||
		a == AuthTypeStreamingUnsignedTrailer
}

// IsChunkedPayload reports whether the request body is aws-chunked encoded,
// either through the payload hash or through Content-Encoding.
func IsChunkedPayload(r *http.Request) bool {
	switch r.Header.Get(s3consts.XAmzContentSHA256) {
	case s3consts.StreamingSignedPayload,
		s3consts.StreamingSignedPayloadTrailer,
		s3consts.StreamingUnsignedPayloadTrailer:
		return true
	}
	for _, enc := range strings.Split(r.Header.Get("Content-Encoding"), ",") {
		if strings.TrimSpace(enc) == s3consts.ContentEncodingAwsChunked {
			return true
		}
	}
	return false
}

func isRequestPresignedV4(r *http.Request) bool {
	query := r.URL.Query()
	_, hasAlgorithm := query["X-Amz-Algorithm"]
	_, hasCredential := query["X-Amz-Credential"]
	_, hasSignature := query["X-Amz-Signature"]
	return hasAlgorithm && hasCredential && hasSignature
}

func isRequestPresignedV2(r *http.Request) bool {
	query := r.URL.Query()
	_, hasAccessKeyID := query["AWSAccessKeyId"]
	_, hasSignature := query["Signature"]
	return hasAccessKeyID && hasSignature
}

// GetAuthType classifies how a request claims to be authenticated.
func GetAuthType(r *http.Request) AuthType {
	authHeader := r.Header.Get("Authorization")
	payload := r.Header.Get(s3consts.XAmzContentSHA256)

	switch {
	case strings.HasPrefix(authHeader, AuthHeaderV4+" ") && payload == s3consts.StreamingSignedPayload:
		return AuthTypeStreamingSigned
	case strings.HasPrefix(authHeader, AuthHeaderV4+" ") && payload == s3consts.StreamingSignedPayloadTrailer:
		return AuthTypeStreamingSignedTrailer
	case payload == s3consts.StreamingUnsignedPayloadTrailer:
		return AuthTypeStreamingUnsignedTrailer
	case strings.HasPrefix(authHeader, AuthHeaderV4+" "):
		return AuthTypeV4
	case strings.HasPrefix(authHeader, AuthHeaderV2+" "):
		return AuthTypeV2
	case isRequestPresignedV4(r):
		return AuthTypePresignedV4
	case isRequestPresignedV2(r):
		return AuthTypePresignedV2
	case authHeader == "":
		return AuthTypeAnonymous
	}
	return AuthTypeNone
}
