// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/network/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type bytesBlob []byte

func (b bytesBlob) Size() int64 { return int64(len(b)) }

func (b bytesBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Jitter:         0.1,
		AttemptTimeout: time.Second,
	}
}

func newMemoryAdapter(t *testing.T) (*Adapter, *memory.Client, *network.KeySigner) {
	t.Helper()
	signer, err := network.GenerateKeySigner()
	require.NoError(t, err)
	client := memory.New(0)
	a := New(Config{Client: client, Signer: signer, Retry: fastRetry()})
	t.Cleanup(func() { a.Close() })
	return a, client, signer
}

func TestAdapter_BucketLifecycle(t *testing.T) {
	a, _, signer := newMemoryAdapter(t)
	ctx := context.Background()

	b, err := a.CreateBucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, "photos", b.Name)
	assert.Equal(t, signer.Address(), b.Owner)
	assert.False(t, b.CreationDate.IsZero())

	_, err = a.CreateBucket(ctx, "photos")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := a.ResolveBucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, b.Address, got.Address)

	// the explicit owner form resolves to the same namespace
	got, err = a.ResolveBucket(ctx, signer.Address().Hex()+".photos")
	require.NoError(t, err)
	assert.Equal(t, b.Address, got.Address)

	_, err = a.CreateBucket(ctx, "docs")
	require.NoError(t, err)
	buckets, err := a.ListBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "docs", buckets[0].Name)
	assert.Equal(t, "photos", buckets[1].Name)

	_, err = a.Put(ctx, b, "cat.jpg", bytesBlob("meow"), ObjectMeta{ETag: `"x"`})
	require.NoError(t, err)
	err = a.DeleteBucket(ctx, b)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, a.Delete(ctx, b, "cat.jpg"))
	require.NoError(t, a.DeleteBucket(ctx, b))

	_, err = a.ResolveBucket(ctx, "photos")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = a.ResolveBucket(ctx, "Invalid_Name")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestAdapter_Objects(t *testing.T) {
	a, client, _ := newMemoryAdapter(t)
	ctx := context.Background()

	b, err := a.CreateBucket(ctx, "docs")
	require.NoError(t, err)

	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	info, err := a.Put(ctx, b, "report.txt", bytesBlob("0123456789"), ObjectMeta{
		ETag:         `"781e5e245d69b566979b86e28d23f2c7"`,
		ContentType:  "text/plain",
		UserMetadata: map[string]string{"Author": "ada"},
		LastModified: modified,
	})
	require.NoError(t, err)
	assert.Len(t, info.ContentAddress, 64)
	assert.Equal(t, 1, client.BlobCount())

	head, err := a.Head(ctx, b, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), head.Size)
	assert.Equal(t, `"781e5e245d69b566979b86e28d23f2c7"`, head.ETag)
	assert.Equal(t, "text/plain", head.ContentType)
	assert.Equal(t, modified, head.LastModified)
	assert.Equal(t, map[string]string{"author": "ada"}, head.UserMetadata)
	assert.Equal(t, info.ContentAddress, head.ContentAddress)

	assert.Equal(t, info.Height, head.Height)

	rc, err := a.Get(ctx, b, head, &network.ByteRange{Offset: 5, Length: 5})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "56789", string(data))

	copied, err := a.Copy(ctx, head, b, "copy.txt", ObjectMeta{ContentType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, head.ETag, copied.ETag)
	assert.Equal(t, 1, client.BlobCount(), "copy must not upload bytes")

	page, err := a.List(ctx, b, ListOptions{MaxKeys: 1})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "copy.txt", page.Objects[0].Key)
	assert.True(t, page.Truncated)

	page, err = a.List(ctx, b, ListOptions{StartAfter: page.NextStartAfter})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "report.txt", page.Objects[0].Key)

	err = a.Delete(ctx, b, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = a.Head(ctx, b, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdapter_RetriesTransientFailures(t *testing.T) {
	a, client, _ := newMemoryAdapter(t)
	ctx := context.Background()
	b, err := a.CreateBucket(ctx, "retry")
	require.NoError(t, err)

	client.FailNext(memory.OpUpload, 2, network.ErrUnavailable)
	_, err = a.Put(ctx, b, "k", bytesBlob("v"), ObjectMeta{})
	require.NoError(t, err)

	client.FailNext(memory.OpUpload, 3, network.ErrUnavailable)
	_, err = a.Put(ctx, b, "k", bytesBlob("v"), ObjectMeta{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAdapter_ReadOnly(t *testing.T) {
	owner, err := network.GenerateKeySigner()
	require.NoError(t, err)
	client := memory.New(0)
	defer client.Close()

	// create a bucket with a writable adapter sharing the network
	writer := New(Config{Client: client, Signer: owner, Retry: fastRetry()})
	_, err = writer.CreateBucket(context.Background(), "public")
	require.NoError(t, err)

	ro := New(Config{Client: client, Retry: fastRetry()})
	assert.True(t, ro.ReadOnly())

	_, err = ro.CreateBucket(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = ro.ListBuckets(context.Background())
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = ro.ResolveBucket(context.Background(), "public")
	assert.ErrorIs(t, err, ErrInvalid)

	b, err := ro.ResolveBucket(context.Background(), owner.Address().Hex()+".public")
	require.NoError(t, err)
	assert.Equal(t, owner.Address().Hex()+".public", b.Name)

	_, err = ro.Put(context.Background(), b, "k", bytesBlob("v"), ObjectMeta{})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestAdapter_CreateBucketForOtherOwner(t *testing.T) {
	a, _, _ := newMemoryAdapter(t)
	other, err := network.GenerateKeySigner()
	require.NoError(t, err)

	_, err = a.CreateBucket(context.Background(), other.Address().Hex()+".theirs")
	assert.ErrorIs(t, err, ErrRejected)
}

// competingClient creates a namespace with the same alias just before the
// adapter fetches its first nonce, after the existence check has passed.
type competingClient struct {
	*memory.Client
	signer network.Signer
	alias  string
	once   sync.Once
	err    error
	winner network.Address
}

func (c *competingClient) Nonce(ctx context.Context, addr network.Address) (uint64, error) {
	c.once.Do(func() {
		nonce, err := c.Client.Nonce(ctx, addr)
		if err != nil {
			c.err = err
			return
		}
		stx, err := c.signer.Sign(ctx, network.Transaction{
			Kind:     network.TxCreateNamespace,
			Nonce:    nonce,
			Metadata: map[string]string{MetaAlias: c.alias},
		})
		if err != nil {
			c.err = err
			return
		}
		if _, err := c.Client.Submit(ctx, stx); err != nil {
			c.err = err
			return
		}
		receipt, err := c.Client.WaitForReceipt(ctx, stx.Hash)
		c.err = err
		c.winner = receipt.Namespace
	})
	if c.err != nil {
		return 0, c.err
	}
	return c.Client.Nonce(ctx, addr)
}

func TestAdapter_CreateBucketLosesRace(t *testing.T) {
	signer, err := network.GenerateKeySigner()
	require.NoError(t, err)
	client := &competingClient{Client: memory.New(0), signer: signer, alias: "photos"}
	a := New(Config{Client: client, Signer: signer, Retry: fastRetry()})
	t.Cleanup(func() { a.Close() })
	ctx := context.Background()

	_, err = a.CreateBucket(ctx, "photos")
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, client.err)

	// the losing namespace is removed and the earlier one keeps the alias
	namespaces, err := client.Client.Namespaces(ctx, signer.Address())
	require.NoError(t, err)
	require.Len(t, namespaces, 1)
	assert.Equal(t, client.winner, namespaces[0].Address)

	got, err := a.ResolveBucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, client.winner, got.Address)
}

func TestAdapter_ResolvePrefersLowestHeight(t *testing.T) {
	a, client, signer := newMemoryAdapter(t)
	ctx := context.Background()

	create := func(created string) network.Namespace {
		nonce, err := client.Nonce(ctx, signer.Address())
		require.NoError(t, err)
		stx, err := signer.Sign(ctx, network.Transaction{
			Kind:     network.TxCreateNamespace,
			Nonce:    nonce,
			Metadata: map[string]string{MetaAlias: "photos", MetaCreationDate: created},
		})
		require.NoError(t, err)
		_, err = client.Submit(ctx, stx)
		require.NoError(t, err)
		receipt, err := client.WaitForReceipt(ctx, stx.Hash)
		require.NoError(t, err)
		ns, err := client.Namespace(ctx, receipt.Namespace)
		require.NoError(t, err)
		return ns
	}
	// same creation second, so only the commit height tells them apart
	first := create("1700000000")
	second := create("1700000000")
	require.Less(t, first.Height, second.Height)

	got, err := a.ResolveBucket(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, first.Address, got.Address)
	assert.Equal(t, first.Height, got.Height)
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) UploadBlob(ctx context.Context, r io.Reader, size int64) (string, error) {
	args := m.Called(ctx, r, size)
	return args.String(0), args.Error(1)
}

func (m *mockClient) Submit(ctx context.Context, tx network.SignedTransaction) (network.TxHash, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(network.TxHash), args.Error(1)
}

func (m *mockClient) WaitForReceipt(ctx context.Context, hash network.TxHash) (network.Receipt, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(network.Receipt), args.Error(1)
}

func (m *mockClient) Nonce(ctx context.Context, addr network.Address) (uint64, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockClient) Namespaces(ctx context.Context, owner network.Address) ([]network.Namespace, error) {
	args := m.Called(ctx, owner)
	ns, _ := args.Get(0).([]network.Namespace)
	return ns, args.Error(1)
}

func (m *mockClient) Namespace(ctx context.Context, addr network.Address) (network.Namespace, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(network.Namespace), args.Error(1)
}

func (m *mockClient) Object(ctx context.Context, ns network.Address, key string) (network.Object, error) {
	args := m.Called(ctx, ns, key)
	return args.Get(0).(network.Object), args.Error(1)
}

func (m *mockClient) List(ctx context.Context, ns network.Address, q network.ListQuery) (network.ListResult, error) {
	args := m.Called(ctx, ns, q)
	return args.Get(0).(network.ListResult), args.Error(1)
}

func (m *mockClient) Download(ctx context.Context, ns network.Address, key, hash string, rng *network.ByteRange) (io.ReadCloser, error) {
	args := m.Called(ctx, ns, key, hash, rng)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockClient) Close() error {
	return nil
}

func TestAdapter_RejectedIsNotRetried(t *testing.T) {
	signer, err := network.GenerateKeySigner()
	require.NoError(t, err)
	m := &mockClient{}
	m.On("Nonce", mock.Anything, signer.Address()).Return(uint64(0), nil)
	m.On("Submit", mock.Anything, mock.Anything).Return(network.TxHash{}, network.ErrRejected)

	a := New(Config{Client: m, Signer: signer, Retry: fastRetry()})
	err = a.Delete(context.Background(), BucketInfo{}, "k")
	assert.ErrorIs(t, err, ErrRejected)
	m.AssertNumberOfCalls(t, "Submit", 1)
}

func TestAdapter_FailedReceipt(t *testing.T) {
	signer, err := network.GenerateKeySigner()
	require.NoError(t, err)
	hash := network.TxHash{1}
	m := &mockClient{}
	m.On("Nonce", mock.Anything, signer.Address()).Return(uint64(4), nil)
	m.On("Submit", mock.Anything, mock.MatchedBy(func(stx network.SignedTransaction) bool {
		return stx.Tx.Nonce == 4 && stx.Tx.Kind == network.TxDeleteObject
	})).Return(hash, nil)
	m.On("WaitForReceipt", mock.Anything, hash).Return(network.Receipt{TxHash: hash, Status: network.TxFailed, Reason: "out of gas"}, nil)

	a := New(Config{Client: m, Signer: signer, Retry: fastRetry()})
	err = a.Delete(context.Background(), BucketInfo{}, "k")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "out of gas")
	m.AssertExpectations(t)
}

func TestAdapter_UnavailableSubmitIsRetried(t *testing.T) {
	signer, err := network.GenerateKeySigner()
	require.NoError(t, err)
	hash := network.TxHash{2}
	m := &mockClient{}
	m.On("Nonce", mock.Anything, signer.Address()).Return(uint64(0), nil)
	m.On("Submit", mock.Anything, mock.Anything).Return(network.TxHash{}, network.ErrUnavailable).Once()
	m.On("Submit", mock.Anything, mock.Anything).Return(hash, nil).Once()
	m.On("WaitForReceipt", mock.Anything, hash).Return(network.Receipt{TxHash: hash, Status: network.TxConfirmed}, nil)

	a := New(Config{Client: m, Signer: signer, Retry: fastRetry()})
	require.NoError(t, a.Delete(context.Background(), BucketInfo{}, "k"))
	m.AssertNumberOfCalls(t, "Submit", 2)
	// signing happens once; the retried submission reuses it
	m.AssertNumberOfCalls(t, "Nonce", 1)
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Parallel()

	p := fastRetry()

	t.Run("permanent error stops", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return &Error{Kind: KindNotFound, Op: "test"}
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, calls)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "test", func(context.Context) error {
			calls++
			return &Error{Kind: KindUnavailable, Op: "test"}
		})
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 3, calls)
	})

	t.Run("attempt deadline is transient", func(t *testing.T) {
		q := p
		q.AttemptTimeout = time.Millisecond
		calls := 0
		err := q.Do(context.Background(), "test", func(ctx context.Context) error {
			calls++
			if calls < 2 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := p.Do(ctx, "test", func(context.Context) error {
			return &Error{Kind: KindUnavailable, Op: "test"}
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWrap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		kind Kind
	}{
		{network.ErrNotFound, KindNotFound},
		{network.ErrRejected, KindRejected},
		{network.ErrConflict, KindConflict},
		{network.ErrUnavailable, KindUnavailable},
		{network.ErrInvalidAddress, KindInvalid},
		{errors.New("boom"), KindUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(wrap("op", tt.err)), tt.err.Error())
	}
	assert.Equal(t, context.Canceled, wrap("op", context.Canceled))
	assert.Nil(t, wrap("op", nil))
}
