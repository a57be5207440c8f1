// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "basin"

// fakeS3 serves the handful of path-style S3 calls the driver makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    int // next n requests get 503
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail > 0 {
		f.fail--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/"+testBucket)
	key := strings.TrimPrefix(path, "/")

	switch {
	case r.Method == http.MethodGet && key == "":
		f.list(w, r)
	case r.Method == http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.objects[key] = b
		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		b, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(b)))
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		b, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			var start, end int
			fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
			end = min(end, len(b)-1)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(b)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(b[start : end+1])
			return
		}
		w.Write(b)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	startAfter := q.Get("start-after")

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > startAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := s3types.ListObjectsV2Result{
		Xmlns:    s3consts.XMLNS,
		Name:     testBucket,
		Prefix:   prefix,
		MaxKeys:  1000,
		KeyCount: len(keys),
	}
	now := time.Now().UTC().Format(s3consts.ISO8601TimeFormat)
	for _, k := range keys {
		res.Contents = append(res.Contents, s3types.Object{
			Key:          k,
			LastModified: now,
			ETag:         `"fake"`,
			Size:         int64(len(f.objects[k])),
			StorageClass: s3consts.StorageClassStandard,
		})
	}
	w.Header().Set("Content-Type", "application/xml")
	xml.NewEncoder(w).Encode(res)
}

func newTestClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := network.New(network.Config{
		Driver:      DriverName,
		S3Endpoint:  srv.URL,
		S3Region:    "us-east-1",
		S3Bucket:    testBucket,
		S3AccessKey: "test",
		S3SecretKey: "test",
	})
	require.NoError(t, err)
	return c.(*Client), fake
}

func submit(t *testing.T, c *Client, signer *network.KeySigner, tx network.Transaction) (network.Receipt, error) {
	t.Helper()
	ctx := context.Background()
	nonce, err := c.Nonce(ctx, signer.Address())
	require.NoError(t, err)
	tx.Nonce = nonce
	stx, err := signer.Sign(ctx, tx)
	require.NoError(t, err)
	hash, err := c.Submit(ctx, stx)
	if err != nil {
		return network.Receipt{}, err
	}
	return c.WaitForReceipt(ctx, hash)
}

func TestClient_RoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	signer, err := network.GenerateKeySigner()
	require.NoError(t, err)

	r, err := submit(t, c, signer, network.Transaction{
		Kind:     network.TxCreateNamespace,
		Metadata: map[string]string{"alias": "photos"},
	})
	require.NoError(t, err)
	ns := r.Namespace
	assert.Equal(t, network.DeriveNamespaceAddress(signer.Address(), 0), ns)

	all, err := c.Namespaces(ctx, signer.Address())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "photos", all[0].Metadata["alias"])
	assert.Equal(t, signer.Address(), all[0].Owner)

	body := "hello, basin"
	hash, err := c.UploadBlob(ctx, strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)

	for _, key := range []string{"a/1", "a/2", "b"} {
		_, err = submit(t, c, signer, network.Transaction{
			Kind:      network.TxPutObject,
			Namespace: ns,
			Key:       key,
			Hash:      hash,
			Size:      uint64(len(body)),
			Metadata:  map[string]string{"etag": `"x"`},
		})
		require.NoError(t, err)
	}

	obj, err := c.Object(ctx, ns, "a/1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), obj.Size)
	assert.Equal(t, hash, obj.Hash)
	assert.Equal(t, `"x"`, obj.Metadata["etag"])

	rc, err := c.Download(ctx, ns, "b", hash, &network.ByteRange{Offset: 7, Length: 5})
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "basin", string(got))

	_, err = c.Download(ctx, ns, "b", "not-the-hash", nil)
	assert.ErrorIs(t, err, network.ErrConflict)

	other, err := c.Object(ctx, ns, "b")
	require.NoError(t, err)
	assert.Greater(t, other.Height, obj.Height)

	res, err := c.List(ctx, ns, network.ListQuery{Delimiter: "/"})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "b", res.Objects[0].Key)
	assert.Equal(t, hash, res.Objects[0].Hash)
	assert.Equal(t, []string{"a/"}, res.CommonPrefixes)

	_, err = submit(t, c, signer, network.Transaction{Kind: network.TxDeleteNamespace, Namespace: ns})
	assert.ErrorIs(t, err, network.ErrConflict)

	_, err = submit(t, c, signer, network.Transaction{Kind: network.TxDeleteObject, Namespace: ns, Key: "missing"})
	assert.ErrorIs(t, err, network.ErrNotFound)

	_, err = c.Object(ctx, ns, "missing")
	assert.ErrorIs(t, err, network.ErrNotFound)
}

func TestClient_Unavailable(t *testing.T) {
	c, fake := newTestClient(t)
	signer, err := network.GenerateKeySigner()
	require.NoError(t, err)

	fake.mu.Lock()
	fake.fail = 100
	fake.mu.Unlock()

	_, err = c.Nonce(context.Background(), signer.Address())
	assert.ErrorIs(t, err, network.ErrUnavailable)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
	assert.ErrorIs(t, classify("op", errors.New("dial tcp: refused")), network.ErrUnavailable)
}

func TestNew_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := New(network.Config{Driver: DriverName})
	assert.Error(t, err)
}
