// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/docs", strings.NewReader(
		`<CreateBucketConfiguration><LocationConstraint>eu-west-1</LocationConstraint></CreateBucketConfiguration>`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Location"))

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodHead, "/docs", nil, nil).Code)

	var location s3types.LocationConstraint
	decodeXML(t, ts.do(t, http.MethodGet, "/docs?location", nil, nil), &location)
	assert.Equal(t, "eu-west-1", location.Location)

	rec = ts.do(t, http.MethodPut, "/docs/readme", strings.NewReader("hi"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	requireS3Error(t, ts.do(t, http.MethodDelete, "/docs", nil, nil), s3err.ErrBucketNotEmpty)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/docs/readme", nil, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/docs", nil, nil).Code)

	rec = ts.do(t, http.MethodHead, "/docs", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
	requireS3Error(t, ts.do(t, http.MethodDelete, "/docs", nil, nil), s3err.ErrNoSuchBucket)
}

func TestCreateBucket_Exists(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	requireS3Error(t, ts.do(t, http.MethodPut, "/photos", nil, nil), s3err.ErrBucketAlreadyExists)
}

func TestCreateBucket_InvalidName(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	requireS3Error(t, ts.do(t, http.MethodPut, "/Bad_Name", nil, nil), s3err.ErrInvalidBucketName)
}

func TestListBuckets(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ts.do(t, http.MethodPut, "/videos", nil, nil)

	var result s3types.ListAllMyBucketsResult
	decodeXML(t, ts.do(t, http.MethodGet, "/", nil, nil), &result)
	assert.True(t, strings.HasPrefix(result.Owner.ID, "0x"), result.Owner.ID)

	var names []string
	for _, b := range result.Buckets {
		names = append(names, b.Name)
		assert.NotEmpty(t, b.CreationDate)
	}
	assert.ElementsMatch(t, []string{"photos", "videos"}, names)
}
