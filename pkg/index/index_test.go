// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testOwner = network.Address{0xaa}
	testNS    = network.Address{0x01}
	otherNS   = network.Address{0x02}
)

func testBucket() backend.BucketInfo {
	return backend.BucketInfo{
		Name:         "photos",
		Alias:        "photos",
		Owner:        testOwner,
		Address:      testNS,
		CreationDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func testObject(key string) backend.ObjectInfo {
	return backend.ObjectInfo{
		Key:            key,
		Size:           42,
		ETag:           `"abc"`,
		ContentType:    "text/plain",
		LastModified:   time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		ContentAddress: "feed",
		UserMetadata:   map[string]string{"author": "ada"},
	}
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return s, client
}

func stores(t *testing.T) map[string]Store {
	_, client := setupTestRedis(t)
	cfg := DefaultRedisConfig()
	cfg.TTL = time.Minute
	return map[string]Store{
		"memory": NewMemoryStore(0, 0),
		"redis":  NewRedisStoreWithClient(client, cfg),
	}
}

func TestStores(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()
			key := bucketKey(testOwner, "photos")

			_, ok, err := store.Bucket(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.SetBucket(ctx, key, testBucket()))
			b, ok, err := store.Bucket(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, testBucket(), b)

			require.NoError(t, store.SetObject(ctx, testNS, testObject("a")))
			require.NoError(t, store.SetObject(ctx, testNS, testObject("b")))
			require.NoError(t, store.SetObject(ctx, otherNS, testObject("a")))

			o, ok, err := store.Object(ctx, testNS, "a")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, testObject("a"), o)

			require.NoError(t, store.DeleteObject(ctx, testNS, "a"))
			_, ok, err = store.Object(ctx, testNS, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			// dropping a bucket drops its objects only
			require.NoError(t, store.DeleteBucket(ctx, key, testNS))
			_, ok, err = store.Bucket(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = store.Object(ctx, testNS, "b")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = store.Object(ctx, otherNS, "a")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStores_LaterCommitWins(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			ctx := context.Background()

			newer := testObject("k")
			newer.Height = 9
			newer.ContentAddress = "new"
			older := testObject("k")
			older.Height = 4
			older.ContentAddress = "old"

			require.NoError(t, store.SetObject(ctx, testNS, newer))
			require.NoError(t, store.SetObject(ctx, testNS, older))
			o, ok, err := store.Object(ctx, testNS, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "new", o.ContentAddress)

			// a delete followed by a rewrite starts over
			require.NoError(t, store.DeleteObject(ctx, testNS, "k"))
			require.NoError(t, store.SetObject(ctx, testNS, older))
			o, ok, err = store.Object(ctx, testNS, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "old", o.ContentAddress)
		})
	}
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	cfg := DefaultRedisConfig()
	cfg.TTL = time.Minute
	store := NewRedisStoreWithClient(client, cfg)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SetObject(ctx, testNS, testObject("k")))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Object(ctx, testNS, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TTLAndBound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore(time.Minute, 2)
	m.now = func() time.Time { return now }

	require.NoError(t, m.SetObject(ctx, testNS, testObject("a")))
	now = now.Add(time.Second)
	require.NoError(t, m.SetObject(ctx, testNS, testObject("b")))
	now = now.Add(time.Second)
	require.NoError(t, m.SetObject(ctx, testNS, testObject("c")))
	assert.Equal(t, 2, m.Len())

	// the oldest entry was evicted
	_, ok, _ := m.Object(ctx, testNS, "a")
	assert.False(t, ok)
	_, ok, _ = m.Object(ctx, testNS, "c")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = m.Object(ctx, testNS, "c")
	assert.False(t, ok)
}

// fakeSource counts backend calls and can block them.
type fakeSource struct {
	bucketCalls atomic.Int32
	headCalls   atomic.Int32
	gate        chan struct{}

	mu      sync.Mutex
	objects map[string]backend.ObjectInfo
}

func newFakeSource() *fakeSource {
	return &fakeSource{objects: map[string]backend.ObjectInfo{"k": testObject("k")}}
}

func (f *fakeSource) ParseBucket(name string) (network.Address, string, error) {
	if name == "bad" {
		return network.Address{}, "", backend.ErrInvalid
	}
	return testOwner, name, nil
}

func (f *fakeSource) ResolveBucket(ctx context.Context, name string) (backend.BucketInfo, error) {
	f.bucketCalls.Add(1)
	if name != "photos" {
		return backend.BucketInfo{}, &backend.Error{Kind: backend.KindNotFound, Op: "resolve_bucket"}
	}
	return testBucket(), nil
}

func (f *fakeSource) BucketsOf(ctx context.Context, owner network.Address) ([]backend.BucketInfo, error) {
	return []backend.BucketInfo{testBucket()}, nil
}

func (f *fakeSource) Head(ctx context.Context, b backend.BucketInfo, key string) (backend.ObjectInfo, error) {
	f.headCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[key]
	if !ok {
		return backend.ObjectInfo{}, &backend.Error{Kind: backend.KindNotFound, Op: "head_object"}
	}
	return o, nil
}

func TestIndex_BucketCaching(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	ix := New(NewMemoryStore(0, 0), src)
	ctx := context.Background()

	b, err := ix.Bucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, testNS, b.Address)
	_, err = ix.Bucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.bucketCalls.Load())

	_, err = ix.RefreshBucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.bucketCalls.Load())

	ix.BucketDeleted(ctx, b)
	_, err = ix.Bucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.bucketCalls.Load())

	_, err = ix.Bucket(ctx, "missing")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	_, err = ix.Bucket(ctx, "bad")
	assert.ErrorIs(t, err, backend.ErrInvalid)
}

func TestIndex_ObjectWritesAreVisible(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	ix := New(NewMemoryStore(0, 0), src)
	ctx := context.Background()
	b := testBucket()

	written := testObject("new")
	ix.ObjectWritten(ctx, b, written)
	got, err := ix.Object(ctx, b, "new")
	require.NoError(t, err)
	assert.Equal(t, written, got)
	assert.Zero(t, src.headCalls.Load())

	ix.ObjectDeleted(ctx, b, "new")
	_, err = ix.Object(ctx, b, "new")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.Equal(t, int32(1), src.headCalls.Load())
}

func TestIndex_RefreshKeepsLaterWrite(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	ix := New(NewMemoryStore(0, 0), src)
	ctx := context.Background()
	b := testBucket()

	// the source still reports the commit before this gateway's write
	stale := testObject("k")
	stale.Height = 1
	src.mu.Lock()
	src.objects["k"] = stale
	src.mu.Unlock()

	written := testObject("k")
	written.Height = 2
	written.ContentAddress = "written"
	ix.ObjectWritten(ctx, b, written)

	_, err := ix.RefreshObject(ctx, b, "k")
	require.NoError(t, err)
	got, err := ix.Object(ctx, b, "k")
	require.NoError(t, err)
	assert.Equal(t, written, got)
}

func TestIndex_MissesAreCoalesced(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.gate = make(chan struct{})
	ix := New(NewMemoryStore(0, 0), src)
	ctx := context.Background()
	b := testBucket()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ix.Object(ctx, b, "k")
			errs <- err
		}()
	}

	// let every goroutine reach the in-flight call before releasing it
	require.Eventually(t, func() bool { return src.headCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, src.headCalls.Load(), int32(2))
}

func TestIndex_Buckets(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	ix := New(NewMemoryStore(0, 0), src)
	ctx := context.Background()

	buckets, err := ix.Buckets(ctx, testOwner)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	// listing primes the bucket entries
	_, err = ix.Bucket(ctx, "photos")
	require.NoError(t, err)
	assert.Zero(t, src.bucketCalls.Load())
}
