// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
)

// Conditions are the If-* request headers. Zero times are absent headers.
type Conditions struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
}

func (c Conditions) IsZero() bool {
	return c.IfMatch == "" && c.IfNoneMatch == "" &&
		c.IfModifiedSince.IsZero() && c.IfUnmodifiedSince.IsZero()
}

// etagMatches reports whether header, a list of ETags or "*", names etag.
func etagMatches(header, etag string) bool {
	etag = strings.Trim(etag, `"`)
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || strings.Trim(candidate, `"`) == etag {
			return true
		}
	}
	return false
}

// Check evaluates the conditionals of a GET or HEAD. If-Unmodified-Since is
// ignored when If-Match is present, If-Modified-Since when If-None-Match is.
func (c Conditions) Check(o backend.ObjectInfo) *Error {
	lastModified := o.LastModified.Truncate(time.Second)

	if c.IfMatch != "" {
		if !etagMatches(c.IfMatch, o.ETag) {
			return &Error{Code: ErrCodePreconditionFailed, Message: "If-Match"}
		}
	} else if !c.IfUnmodifiedSince.IsZero() && lastModified.After(c.IfUnmodifiedSince) {
		return &Error{Code: ErrCodePreconditionFailed, Message: "If-Unmodified-Since"}
	}

	if c.IfNoneMatch != "" {
		if etagMatches(c.IfNoneMatch, o.ETag) {
			return &Error{Code: ErrCodeNotModified, Message: "If-None-Match"}
		}
	} else if !c.IfModifiedSince.IsZero() && !lastModified.After(c.IfModifiedSince) {
		return &Error{Code: ErrCodeNotModified, Message: "If-Modified-Since"}
	}
	return nil
}

// CheckCopySource evaluates x-amz-copy-source-if-* headers. Every failure is
// a 412.
func (c Conditions) CheckCopySource(o backend.ObjectInfo) *Error {
	if err := c.Check(o); err != nil {
		err.Code = ErrCodePreconditionFailed
		return err
	}
	return nil
}

// ParseRange resolves a Range header against an object of the given size.
// A header that is not a single bytes range is ignored and the whole object
// is returned (nil). A range starting at or beyond size fails with
// ErrCodeRangeNotSatisfiable.
func ParseRange(header string, size int64) (*network.ByteRange, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, nil
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, nil
	}
	unsatisfiable := &Error{
		Code:    ErrCodeRangeNotSatisfiable,
		Message: "range " + spec + " of " + strconv.FormatInt(size, 10) + " bytes",
	}

	if first == "" {
		// bytes=-n selects the last n bytes
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return nil, nil
		}
		if n == 0 || size == 0 {
			return nil, unsatisfiable
		}
		n = min(n, size)
		return &network.ByteRange{Offset: size - n, Length: n}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return nil, nil
		}
		end = min(end, size-1)
	}
	if start >= size {
		return nil, unsatisfiable
	}
	return &network.ByteRange{Offset: start, Length: end - start + 1}, nil
}
