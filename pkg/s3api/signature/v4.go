// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"
	"github.com/minio/sha256-simd"
)

// AWS Signature Version 4 implementation following:
// https://docs.aws.amazon.com/general/latest/gr/signature-version-4.html

// MaxClockSkew is how far a signed request's timestamp may drift from the
// server clock.
const MaxClockSkew = 15 * time.Minute

var (
	errMalformedAuth = errors.New("malformed authorization")
	errMissingDate   = errors.New("missing date")
	errExpired       = errors.New("presigned request expired")
)

// V4Verifier verifies AWS Signature Version 4 authentication
type V4Verifier struct {
	creds Credentials
	now   func() time.Time
}

// NewV4Verifier creates a new signature v4 verifier
func NewV4Verifier(creds Credentials) *V4Verifier {
	return &V4Verifier{
		creds: creds,
		now:   time.Now,
	}
}

// authInfo contains parsed authentication information from request
type authInfo struct {
	accessKey       string
	date            string // YYYYMMDD format from credential scope
	timestamp       string // YYYYMMDDTHHMMSSZ
	region          string
	service         string
	signedHeaders   []string
	signature       string
	credentialScope string
	presigned       bool
}

// Result is the outcome of a successful verification. The signing context is
// what an aws-chunked body needs to verify its chunk signatures.
type Result struct {
	AccessKey     string
	SigningKey    []byte
	SeedSignature string
	Timestamp     string
	Region        string
	Service       string
}

// VerifyRequest verifies AWS Signature V4 for a request, from either the
// Authorization header or presigned query parameters.
func (v *V4Verifier) VerifyRequest(r *http.Request) (*Result, s3err.ErrorCode) {
	auth, err := v.extractAuthInfo(r)
	switch {
	case errors.Is(err, errMissingDate):
		return nil, s3err.ErrMissingDateHeader
	case errors.Is(err, errExpired):
		return nil, s3err.ErrExpiredPresignRequest
	case err != nil:
		return nil, s3err.ErrAuthorizationHeaderMalformed
	}

	if !auth.presigned {
		signTime, err := time.Parse(Iso8601BasicFormat, auth.timestamp)
		if err != nil {
			return nil, s3err.ErrMissingDateHeader
		}
		skew := v.now().Sub(signTime)
		if skew > MaxClockSkew || skew < -MaxClockSkew {
			return nil, s3err.ErrRequestTimeTooSkewed
		}
	}

	secretKey, found := v.creds.SecretKey(r.Context(), auth.accessKey)
	if !found {
		return nil, s3err.ErrInvalidAccessKeyID
	}

	canonicalReq := buildCanonicalRequest(r, auth.signedHeaders, auth.presigned)
	stringToSign := buildStringToSign(auth.timestamp, auth.credentialScope, canonicalReq)
	signingKey := deriveSigningKey(secretKey, auth.date, auth.region, auth.service)
	expectedSig := calculateSignature(signingKey, stringToSign)

	if !constantTimeCompare(auth.signature, expectedSig) {
		return nil, s3err.ErrSignatureDoesNotMatch
	}

	return &Result{
		AccessKey:     auth.accessKey,
		SigningKey:    signingKey,
		SeedSignature: auth.signature,
		Timestamp:     auth.timestamp,
		Region:        auth.region,
		Service:       auth.service,
	}, s3err.ErrNone
}

// extractAuthInfo parses authentication info from Authorization header or query params
func (v *V4Verifier) extractAuthInfo(r *http.Request) (*authInfo, error) {
	if r.URL.Query().Get("X-Amz-Credential") != "" {
		return v.extractPresignedAuthInfo(r)
	}

	// "AWS4-HMAC-SHA256 Credential=..., SignedHeaders=..., Signature=..."
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, AuthHeaderV4+" ") {
		return nil, errMalformedAuth
	}

	auth := &authInfo{}
	for _, part := range strings.Split(strings.TrimPrefix(authHeader, AuthHeaderV4+" "), ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "Credential":
			if err := auth.setCredential(val); err != nil {
				return nil, err
			}
		case "SignedHeaders":
			auth.signedHeaders = strings.Split(val, ";")
		case "Signature":
			auth.signature = val
		}
	}

	if auth.accessKey == "" || auth.signature == "" || len(auth.signedHeaders) == 0 {
		return nil, errMalformedAuth
	}

	auth.timestamp = r.Header.Get(s3consts.XAmzDate)
	if auth.timestamp == "" {
		if dateHeader := r.Header.Get("Date"); dateHeader != "" {
			if t, err := http.ParseTime(dateHeader); err == nil {
				auth.timestamp = t.UTC().Format(Iso8601BasicFormat)
			}
		}
	}
	if auth.timestamp == "" {
		return nil, errMissingDate
	}

	return auth, nil
}

// extractPresignedAuthInfo parses presigned URL query parameters
func (v *V4Verifier) extractPresignedAuthInfo(r *http.Request) (*authInfo, error) {
	q := r.URL.Query()
	if q.Get("X-Amz-Algorithm") != AuthHeaderV4 {
		return nil, errMalformedAuth
	}

	auth := &authInfo{
		timestamp:     q.Get("X-Amz-Date"),
		signedHeaders: strings.Split(q.Get("X-Amz-SignedHeaders"), ";"),
		signature:     q.Get("X-Amz-Signature"),
		presigned:     true,
	}
	if err := auth.setCredential(q.Get("X-Amz-Credential")); err != nil {
		return nil, err
	}
	if auth.timestamp == "" {
		return nil, errMissingDate
	}

	signTime, err := time.Parse(Iso8601BasicFormat, auth.timestamp)
	if err != nil {
		return nil, errMissingDate
	}
	expires, err := strconv.ParseInt(q.Get("X-Amz-Expires"), 10, 64)
	if err != nil || expires <= 0 || expires > 7*24*3600 {
		return nil, errMalformedAuth
	}
	if v.now().Sub(signTime) > time.Duration(expires)*time.Second {
		return nil, errExpired
	}

	return auth, nil
}

// setCredential parses accessKey/date/region/service/aws4_request.
func (a *authInfo) setCredential(cred string) error {
	parts := strings.Split(cred, "/")
	if len(parts) != 5 || parts[4] != "aws4_request" {
		return errMalformedAuth
	}
	a.accessKey = parts[0]
	a.date = parts[1]
	a.region = parts[2]
	a.service = parts[3]
	a.credentialScope = strings.Join(parts[1:], "/")
	return nil
}

// buildCanonicalRequest creates the canonical request string for SigV4
func buildCanonicalRequest(r *http.Request, signedHeaders []string, presigned bool) string {
	// Go's server decodes URL.Path; RawPath keeps the client's encoding when
	// it differs from the default one.
	canonicalURI := r.URL.EscapedPath()
	if r.URL.RawPath == "" {
		canonicalURI = uriEncode(r.URL.Path, false)
	}
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalHeaders, sortedSignedHeaders := buildCanonicalHeaders(r, signedHeaders)

	hashedPayload := r.Header.Get(s3consts.XAmzContentSHA256)
	if presigned {
		hashedPayload = s3consts.UnsignedPayload
	} else if hashedPayload == "" {
		hashedPayload = s3consts.EmptySHA256
	}

	return strings.Join([]string{
		r.Method,
		canonicalURI,
		buildCanonicalQueryString(r.URL.Query()),
		canonicalHeaders,
		strings.Join(sortedSignedHeaders, ";"),
		hashedPayload,
	}, "\n")
}

// buildCanonicalQueryString creates sorted canonical query string
func buildCanonicalQueryString(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "X-Amz-Signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, val := range vals {
			parts = append(parts, uriEncode(k, true)+"="+uriEncode(val, true))
		}
	}
	return strings.Join(parts, "&")
}

// buildCanonicalHeaders creates sorted canonical headers string and returns
// the sorted list of header names for use in the signed headers list.
func buildCanonicalHeaders(r *http.Request, signedHeaders []string) (string, []string) {
	headers := make(map[string][]string)

	for _, h := range signedHeaders {
		h = strings.ToLower(strings.TrimSpace(h))
		switch h {
		case "":
			continue
		case "host":
			// Host lives in r.Host, not r.Header
			headers[h] = []string{r.Host}
			continue
		case "content-length":
			if vals := r.Header.Values(h); len(vals) > 0 {
				headers[h] = vals
			} else if r.ContentLength >= 0 {
				headers[h] = []string{strconv.FormatInt(r.ContentLength, 10)}
			}
			continue
		}
		if vals := r.Header.Values(h); len(vals) > 0 {
			headers[h] = vals
		} else {
			headers[h] = []string{""}
		}
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		for i, val := range headers[name] {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strings.Join(strings.Fields(val), " "))
		}
		b.WriteByte('\n')
	}

	return b.String(), names
}

// buildStringToSign creates the string to sign for SigV4
func buildStringToSign(timestamp, credentialScope, canonicalRequest string) string {
	h := utils.Sha256PoolGetHasher()
	h.Write([]byte(canonicalRequest))
	hashedRequest := hex.EncodeToString(h.Sum(nil))
	utils.Sha256PoolPutHasher(h)

	return strings.Join([]string{
		AuthHeaderV4,
		timestamp,
		credentialScope,
		hashedRequest,
	}, "\n")
}

// deriveSigningKey derives the signing key using HMAC-SHA256 chain
func deriveSigningKey(secretKey, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func calculateSignature(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// uriEncode applies the AWS flavour of percent encoding: everything except
// unreserved characters is escaped, and '/' only when encodeSlash is set.
func uriEncode(s string, encodeSlash bool) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
