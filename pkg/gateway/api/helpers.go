// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service/object"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/signature"
)

// maxXMLBodySize bounds control bodies (DeleteObjects, Complete).
const maxXMLBodySize = 2 << 20

// requestBody returns the decoded payload of a PUT. aws-chunked bodies are
// decoded here when the authentication filter did not already do it, which
// is the case on gateways running without credentials.
func requestBody(d *data.Data) (io.Reader, int64, func() map[string]string, error) {
	body := d.VerifiedBody
	if body == nil && signature.IsChunkedPayload(d.Req) {
		body = signature.NewChunkReader(signature.ChunkReaderConfig{Body: d.Req.Body})
	}
	if body == nil {
		return d.Req.Body, d.Req.ContentLength, nil, nil
	}

	// Content-Length includes the chunk framing; the payload size is in
	// x-amz-decoded-content-length.
	length := int64(-1)
	if decoded := d.Req.Header.Get(s3consts.XAmzDecodedLength); decoded != "" {
		n, err := strconv.ParseInt(decoded, 10, 64)
		if err != nil || n < 0 {
			return nil, 0, nil, s3err.ErrInvalidArgument
		}
		length = n
	}
	var trailers func() map[string]string
	if cr, ok := body.(*signature.ChunkReader); ok {
		trailers = cr.Trailers
	}
	return body, length, trailers, nil
}

// userMetadata collects x-amz-meta-* headers without their prefix.
func userMetadata(h http.Header) (map[string]string, error) {
	meta := make(map[string]string)
	size := 0
	for name, values := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, s3consts.XAmzMetaPrefix) || lower == s3consts.XAmzContentAddress {
			continue
		}
		key := strings.TrimPrefix(lower, s3consts.XAmzMetaPrefix)
		value := strings.Join(values, ",")
		size += len(key) + len(value)
		meta[key] = value
	}
	if size > s3consts.MaxUserMetadataSize {
		return nil, s3err.ErrMetadataTooLarge
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}

// expectedChecksum returns the x-amz-checksum-* the client declared, in a
// header or announced through x-amz-trailer.
func expectedChecksum(h http.Header) (s3types.ExpectedChecksum, error) {
	if ck, ok := s3types.ChecksumFromHeader(h); ok {
		return ck, nil
	}
	trailer := strings.TrimSpace(h.Get(s3consts.XAmzTrailer))
	if trailer == "" {
		return s3types.ExpectedChecksum{}, nil
	}
	for _, alg := range []s3types.ChecksumAlgorithm{
		s3types.ChecksumAlgorithmCRC32,
		s3types.ChecksumAlgorithmCRC32C,
		s3types.ChecksumAlgorithmCRC64NVMe,
		s3types.ChecksumAlgorithmSHA256,
	} {
		if strings.EqualFold(trailer, alg.Header()) {
			return s3types.ExpectedChecksum{Algorithm: alg}, nil
		}
	}
	return s3types.ExpectedChecksum{}, s3err.ErrInvalidArgument
}

func parseHTTPTime(v string) (t time.Time) {
	if v == "" {
		return t
	}
	t, _ = http.ParseTime(v)
	return t
}

// conditions reads the If-* headers of a GET or HEAD.
func conditions(h http.Header) object.Conditions {
	return object.Conditions{
		IfMatch:           h.Get("If-Match"),
		IfNoneMatch:       h.Get("If-None-Match"),
		IfModifiedSince:   parseHTTPTime(h.Get("If-Modified-Since")),
		IfUnmodifiedSince: parseHTTPTime(h.Get("If-Unmodified-Since")),
	}
}

// copySourceConditions reads the x-amz-copy-source-if-* headers.
func copySourceConditions(h http.Header) object.Conditions {
	return object.Conditions{
		IfMatch:           h.Get(s3consts.XAmzCopySourceIfMatch),
		IfNoneMatch:       h.Get(s3consts.XAmzCopySourceIfNoneMatch),
		IfModifiedSince:   parseHTTPTime(h.Get(s3consts.XAmzCopySourceIfModifiedSince)),
		IfUnmodifiedSince: parseHTTPTime(h.Get(s3consts.XAmzCopySourceIfUnmodifiedSince)),
	}
}

// parseCopySource splits x-amz-copy-source, "[/]bucket/key[?versionId=..]"
// with the key URL-encoded, into bucket and key.
func parseCopySource(v string) (bucket, key string, err error) {
	v, _, _ = strings.Cut(v, "?")
	v, err = url.PathUnescape(v)
	if err != nil {
		return "", "", s3err.ErrInvalidCopySource
	}
	v = strings.TrimPrefix(v, "/")
	bucket, key, ok := strings.Cut(v, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", s3err.ErrInvalidCopySource
	}
	return bucket, key, nil
}

// parseIntParam parses an optional non-negative integer query parameter.
func parseIntParam(q url.Values, name string, def int, code s3err.ErrorCode) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, code
	}
	return n, nil
}

// setObjectHeaders writes the metadata headers of a GET or HEAD response.
func setObjectHeaders(w http.ResponseWriter, o backend.ObjectInfo) {
	h := w.Header()
	h.Set("ETag", o.ETag)
	h.Set("Last-Modified", o.LastModified.UTC().Format(http.TimeFormat))
	h.Set("Content-Type", o.ContentType)
	h.Set("Content-Length", strconv.FormatInt(o.Size, 10))
	h.Set("Accept-Ranges", "bytes")
	for k, v := range o.UserMetadata {
		h.Set(s3consts.XAmzMetaPrefix+k, v)
	}
	if o.ContentAddress != "" {
		h.Set(s3consts.XAmzContentAddress, o.ContentAddress)
	}
}

func isoTime(t time.Time) string {
	return t.UTC().Format(s3consts.ISO8601TimeFormat)
}

// encodeKey applies encoding-type=url to a key or prefix in a listing.
func encodeKey(s, encodingType string) string {
	if encodingType == "" || s == "" {
		return s
	}
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// decodeXMLBody reads a control body, checks Content-MD5 when present and
// unmarshals it into v.
func decodeXMLBody(d *data.Data, v any) error {
	body, err := io.ReadAll(io.LimitReader(d.Req.Body, maxXMLBodySize+1))
	if err != nil {
		if d.Ctx.Err() != nil {
			return d.Ctx.Err()
		}
		return s3err.ErrIncompleteBody
	}
	if len(body) > maxXMLBodySize {
		return s3err.ErrMalformedXML
	}
	if want := d.Req.Header.Get("Content-MD5"); want != "" {
		decoded, err := base64.StdEncoding.DecodeString(want)
		if err != nil || len(decoded) != md5.Size {
			return s3err.ErrInvalidDigest
		}
		if sum := md5.Sum(body); !bytes.Equal(sum[:], decoded) {
			return s3err.ErrBadDigest
		}
	}
	if err := xml.Unmarshal(body, v); err != nil {
		return s3err.ErrMalformedXML
	}
	return nil
}
