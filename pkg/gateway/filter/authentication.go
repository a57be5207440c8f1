// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/signature"
)

const (
	FilterTypeAuthentication = "AuthenticationFilter"

	authResultSuccess           = "success"
	authResultAccessDenied      = "access_denied"
	authResultInvalidAccessKey  = "invalid_access_key"
	authResultSignatureMismatch = "signature_mismatch"
	authResultUnsupportedAuth   = "unsupported_auth"
	authResultAnonymousDenied   = "anonymous_denied"
)

// AuthenticationFilter verifies AWS Signature V4 requests. It is only in the
// chain when the gateway is configured with credentials.
type AuthenticationFilter struct {
	v4Verifier *signature.V4Verifier
}

func NewAuthenticationFilter(creds signature.Credentials) *AuthenticationFilter {
	return &AuthenticationFilter{
		v4Verifier: signature.NewV4Verifier(creds),
	}
}

func (f *AuthenticationFilter) Type() string {
	return FilterTypeAuthentication
}

func errorToResult(errCode s3err.ErrorCode) string {
	switch errCode {
	case s3err.ErrInvalidAccessKeyID:
		return authResultInvalidAccessKey
	case s3err.ErrSignatureDoesNotMatch:
		return authResultSignatureMismatch
	case s3err.ErrSignatureVersionNotSupported:
		return authResultUnsupportedAuth
	default:
		return authResultAccessDenied
	}
}

func (f *AuthenticationFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	authType := signature.GetAuthType(d.Req)
	authTypeStr := authType.String()

	switch authType {
	case signature.AuthTypeAnonymous:
		metricAuthTotal.WithLabelValues(authResultAnonymousDenied, authTypeStr).Inc()
		return nil, s3err.ErrAccessDenied

	case signature.AuthTypeNone, signature.AuthTypeV2, signature.AuthTypePresignedV2:
		metricAuthTotal.WithLabelValues(authResultUnsupportedAuth, authTypeStr).Inc()
		return nil, s3err.ErrSignatureVersionNotSupported
	}

	res, errCode := f.v4Verifier.VerifyRequest(d.Req)
	if errCode != s3err.ErrNone {
		metricAuthTotal.WithLabelValues(errorToResult(errCode), authTypeStr).Inc()
		return nil, errCode
	}
	d.Auth = res
	d.S3Info.AccessKey = res.AccessKey

	switch authType {
	case signature.AuthTypeStreamingSigned, signature.AuthTypeStreamingSignedTrailer:
		d.VerifiedBody = signature.NewChunkReader(signature.ChunkReaderConfig{
			Body: d.Req.Body,
			Auth: res,
		})
	case signature.AuthTypeStreamingUnsignedTrailer:
		// The seed request is signed but the chunks are not.
		d.VerifiedBody = signature.NewChunkReader(signature.ChunkReaderConfig{
			Body: d.Req.Body,
		})
	}

	metricAuthTotal.WithLabelValues(authResultSuccess, authTypeStr).Inc()
	return Next{}, nil
}
