// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package signature

import (
	"net/http"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
)

// SignV4 signs r in place with an Authorization header. The payload hash is
// taken from x-amz-content-sha256 and defaults to UNSIGNED-PAYLOAD. It returns
// the seed signature, which chunked bodies chain from.
func SignV4(r *http.Request, accessKey, secretKey, region string, now time.Time) string {
	now = now.UTC()
	timestamp := now.Format(Iso8601BasicFormat)
	date := now.Format(Iso8601DateFormat)

	r.Header.Set(s3consts.XAmzDate, timestamp)
	if r.Header.Get(s3consts.XAmzContentSHA256) == "" {
		r.Header.Set(s3consts.XAmzContentSHA256, s3consts.UnsignedPayload)
	}
	if r.Host == "" {
		r.Host = r.URL.Host
	}

	signed := []string{"host", s3consts.XAmzContentSHA256, s3consts.XAmzDate}
	for name := range r.Header {
		lower := strings.ToLower(name)
		if lower == "content-md5" || lower == "content-type" ||
			(strings.HasPrefix(lower, "x-amz-") && lower != s3consts.XAmzContentSHA256 && lower != s3consts.XAmzDate) {
			signed = append(signed, lower)
		}
	}

	scope := strings.Join([]string{date, region, "s3", "aws4_request"}, "/")
	canonical := buildCanonicalRequest(r, signed, false)
	_, sorted := buildCanonicalHeaders(r, signed)
	key := deriveSigningKey(secretKey, date, region, "s3")
	sig := calculateSignature(key, buildStringToSign(timestamp, scope, canonical))

	r.Header.Set("Authorization", AuthHeaderV4+" Credential="+accessKey+"/"+scope+
		", SignedHeaders="+strings.Join(sorted, ";")+", Signature="+sig)
	return sig
}
