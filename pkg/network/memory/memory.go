// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory is an in-process storage network. It validates signatures,
// nonces and ownership like the real chain, confirms transactions after a
// configurable delay, and supports fault injection for tests.
package memory

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"
)

const DriverName = "memory"

func init() {
	network.Register(DriverName, func(cfg network.Config) (network.Client, error) {
		return New(cfg.ConfirmDelay), nil
	})
}

// Op names a client method for fault injection.
type Op string

const (
	OpUpload   Op = "upload"
	OpSubmit   Op = "submit"
	OpWait     Op = "wait"
	OpQuery    Op = "query"
	OpDownload Op = "download"
)

type objectEntry struct {
	key string
	obj network.Object
}

func entryLess(a, b *objectEntry) bool {
	return a.key < b.key
}

type namespace struct {
	ns      network.Namespace
	objects *btree.BTreeG[*objectEntry]
}

type pendingTx struct {
	receipt network.Receipt
	done    chan struct{}
	timer   *time.Timer
}

// Client is an in-memory network.Client.
type Client struct {
	confirmDelay time.Duration

	mu         sync.RWMutex
	blobs      map[string][]byte
	namespaces map[network.Address]*namespace
	nonces     map[network.Address]uint64
	txs        map[network.TxHash]*pendingTx
	height     uint64
	faults     map[Op][]error
	closed     bool
}

var _ network.Client = (*Client)(nil)

// New creates an empty network. Transactions confirm after confirmDelay;
// zero confirms them during Submit.
func New(confirmDelay time.Duration) *Client {
	return &Client{
		confirmDelay: confirmDelay,
		blobs:        make(map[string][]byte),
		namespaces:   make(map[network.Address]*namespace),
		nonces:       make(map[network.Address]uint64),
		txs:          make(map[network.TxHash]*pendingTx),
		faults:       make(map[Op][]error),
	}
}

// FailNext makes the next n calls of op return err.
func (c *Client) FailNext(op Op, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.faults[op] = append(c.faults[op], err)
	}
}

func (c *Client) fault(op Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: client closed", network.ErrUnavailable)
	}
	q := c.faults[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	c.faults[op] = q[1:]
	return err
}

// BlobCount returns the number of distinct blobs stored.
func (c *Client) BlobCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blobs)
}

func (c *Client) UploadBlob(ctx context.Context, r io.Reader, size int64) (string, error) {
	if err := c.fault(OpUpload); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	n, err := io.Copy(&buf, r)
	if err != nil {
		return "", fmt.Errorf("%w: read blob: %v", network.ErrUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("%w: blob size %d, declared %d", network.ErrRejected, n, size)
	}
	sum := utils.Sha256Sum(buf.Bytes())
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	c.blobs[hash] = buf.Bytes()
	c.mu.Unlock()
	return hash, nil
}

func (c *Client) Nonce(ctx context.Context, addr network.Address) (uint64, error) {
	if err := c.fault(OpQuery); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nonces[addr], nil
}

func (c *Client) Submit(ctx context.Context, stx network.SignedTransaction) (network.TxHash, error) {
	if err := c.fault(OpSubmit); err != nil {
		return network.TxHash{}, err
	}
	if err := ctx.Err(); err != nil {
		return network.TxHash{}, err
	}
	if _, err := stx.Sender(); err != nil {
		return network.TxHash{}, fmt.Errorf("%w: %v", network.ErrRejected, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A resubmitted transaction is accepted once.
	if _, ok := c.txs[stx.Hash]; ok {
		return stx.Hash, nil
	}

	tx := stx.Tx
	if want := c.nonces[tx.From]; tx.Nonce != want {
		return network.TxHash{}, fmt.Errorf("%w: nonce %d, expected %d", network.ErrRejected, tx.Nonce, want)
	}
	if err := c.checkLocked(tx); err != nil {
		return network.TxHash{}, err
	}
	c.nonces[tx.From]++

	p := &pendingTx{
		receipt: network.Receipt{TxHash: stx.Hash, Status: network.TxPending},
		done:    make(chan struct{}),
	}
	c.txs[stx.Hash] = p

	if c.confirmDelay <= 0 {
		c.executeLocked(p, tx)
		return stx.Hash, nil
	}
	p.timer = time.AfterFunc(c.confirmDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		c.executeLocked(p, tx)
	})
	return stx.Hash, nil
}

// checkLocked validates tx against current state.
func (c *Client) checkLocked(tx network.Transaction) error {
	switch tx.Kind {
	case network.TxCreateNamespace:
		return nil
	case network.TxDeleteNamespace:
		ns, err := c.ownedLocked(tx)
		if err != nil {
			return err
		}
		if ns.objects.Len() > 0 {
			return fmt.Errorf("%w: namespace %s is not empty", network.ErrConflict, tx.Namespace.Hex())
		}
		return nil
	case network.TxPutObject:
		if _, err := c.ownedLocked(tx); err != nil {
			return err
		}
		if tx.Key == "" {
			return fmt.Errorf("%w: empty key", network.ErrRejected)
		}
		if _, ok := c.blobs[tx.Hash]; !ok {
			return fmt.Errorf("%w: blob %s not uploaded", network.ErrRejected, tx.Hash)
		}
		return nil
	case network.TxDeleteObject:
		ns, err := c.ownedLocked(tx)
		if err != nil {
			return err
		}
		if _, ok := ns.objects.Get(&objectEntry{key: tx.Key}); !ok {
			return fmt.Errorf("%w: object %q", network.ErrNotFound, tx.Key)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown transaction kind %d", network.ErrRejected, tx.Kind)
	}
}

func (c *Client) ownedLocked(tx network.Transaction) (*namespace, error) {
	ns, ok := c.namespaces[tx.Namespace]
	if !ok {
		return nil, fmt.Errorf("%w: namespace %s", network.ErrNotFound, tx.Namespace.Hex())
	}
	if ns.ns.Owner != tx.From {
		return nil, fmt.Errorf("%w: %s does not own namespace %s", network.ErrRejected, tx.From.Hex(), tx.Namespace.Hex())
	}
	return ns, nil
}

// executeLocked applies tx and finalizes its receipt.
func (c *Client) executeLocked(p *pendingTx, tx network.Transaction) {
	c.height++
	p.receipt.Height = c.height
	p.receipt.Time = time.Now()
	defer close(p.done)

	if err := c.checkLocked(tx); err != nil {
		p.receipt.Status = network.TxFailed
		p.receipt.Reason = err.Error()
		return
	}
	p.receipt.Status = network.TxConfirmed

	switch tx.Kind {
	case network.TxCreateNamespace:
		addr := network.DeriveNamespaceAddress(tx.From, tx.Nonce)
		c.namespaces[addr] = &namespace{
			ns: network.Namespace{
				Address:  addr,
				Owner:    tx.From,
				Metadata: network.CloneMetadata(tx.Metadata),
				Height:   c.height,
			},
			objects: btree.NewG[*objectEntry](16, entryLess),
		}
		p.receipt.Namespace = addr
	case network.TxDeleteNamespace:
		delete(c.namespaces, tx.Namespace)
	case network.TxPutObject:
		c.namespaces[tx.Namespace].objects.ReplaceOrInsert(&objectEntry{
			key: tx.Key,
			obj: network.Object{
				Key:      tx.Key,
				Size:     int64(tx.Size),
				Hash:     tx.Hash,
				Metadata: network.CloneMetadata(tx.Metadata),
				Height:   c.height,
			},
		})
	case network.TxDeleteObject:
		c.namespaces[tx.Namespace].objects.Delete(&objectEntry{key: tx.Key})
	}
}

func (c *Client) WaitForReceipt(ctx context.Context, hash network.TxHash) (network.Receipt, error) {
	if err := c.fault(OpWait); err != nil {
		return network.Receipt{}, err
	}
	c.mu.RLock()
	p, ok := c.txs[hash]
	c.mu.RUnlock()
	if !ok {
		return network.Receipt{}, fmt.Errorf("%w: transaction %s", network.ErrNotFound, hash.Hex())
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return network.Receipt{}, ctx.Err()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return p.receipt, nil
}

func (c *Client) Namespaces(ctx context.Context, owner network.Address) ([]network.Namespace, error) {
	if err := c.fault(OpQuery); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []network.Namespace
	for _, ns := range c.namespaces {
		if ns.ns.Owner == owner {
			out = append(out, cloneNamespace(ns.ns))
		}
	}
	return out, nil
}

func (c *Client) Namespace(ctx context.Context, addr network.Address) (network.Namespace, error) {
	if err := c.fault(OpQuery); err != nil {
		return network.Namespace{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[addr]
	if !ok {
		return network.Namespace{}, fmt.Errorf("%w: namespace %s", network.ErrNotFound, addr.Hex())
	}
	return cloneNamespace(ns.ns), nil
}

func (c *Client) Object(ctx context.Context, nsAddr network.Address, key string) (network.Object, error) {
	if err := c.fault(OpQuery); err != nil {
		return network.Object{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[nsAddr]
	if !ok {
		return network.Object{}, fmt.Errorf("%w: namespace %s", network.ErrNotFound, nsAddr.Hex())
	}
	e, ok := ns.objects.Get(&objectEntry{key: key})
	if !ok {
		return network.Object{}, fmt.Errorf("%w: object %q", network.ErrNotFound, key)
	}
	return cloneObject(e.obj), nil
}

func (c *Client) List(ctx context.Context, nsAddr network.Address, q network.ListQuery) (network.ListResult, error) {
	if err := c.fault(OpQuery); err != nil {
		return network.ListResult{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[nsAddr]
	if !ok {
		return network.ListResult{}, fmt.Errorf("%w: namespace %s", network.ErrNotFound, nsAddr.Hex())
	}

	start := q.Prefix
	if q.StartAfter > start {
		start = q.StartAfter
	}
	iterate := func(yield func(string) bool) {
		ns.objects.AscendGreaterOrEqual(&objectEntry{key: start}, func(e *objectEntry) bool {
			if len(e.key) < len(q.Prefix) || e.key[:len(q.Prefix)] != q.Prefix {
				return false
			}
			return yield(e.key)
		})
	}
	lookup := func(key string) network.Object {
		e, _ := ns.objects.Get(&objectEntry{key: key})
		return cloneObject(e.obj)
	}
	return network.ListKeys(q, iterate, lookup), nil
}

func (c *Client) Download(ctx context.Context, nsAddr network.Address, key, hash string, rng *network.ByteRange) (io.ReadCloser, error) {
	if err := c.fault(OpDownload); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[nsAddr]
	if !ok {
		return nil, fmt.Errorf("%w: namespace %s", network.ErrNotFound, nsAddr.Hex())
	}
	e, ok := ns.objects.Get(&objectEntry{key: key})
	if !ok {
		return nil, fmt.Errorf("%w: object %q", network.ErrNotFound, key)
	}
	if hash != "" && e.obj.Hash != hash {
		return nil, fmt.Errorf("%w: object %q was overwritten", network.ErrConflict, key)
	}
	data, ok := c.blobs[e.obj.Hash]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", network.ErrNotFound, e.obj.Hash)
	}

	if rng != nil {
		start := min(rng.Offset, int64(len(data)))
		end := min(start+rng.Length, int64(len(data)))
		data = data[start:end]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Close stops pending confirmations. Waiters of unconfirmed transactions
// block until their context ends.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, p := range c.txs {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	return nil
}

func cloneNamespace(ns network.Namespace) network.Namespace {
	ns.Metadata = network.CloneMetadata(ns.Metadata)
	return ns
}

func cloneObject(o network.Object) network.Object {
	o.Metadata = network.CloneMetadata(o.Metadata)
	return o
}
