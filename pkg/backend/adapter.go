// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend adapts the storage network to S3 semantics. It owns
// signing, nonce ordering, retries and error classification, and is the
// only caller of network.Client.
package backend

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/network"

	"golang.org/x/time/rate"
)

// Metadata keys stored on the network.
const (
	MetaAlias        = "alias"
	MetaCreationDate = "creation_date"
	MetaLastModified = "last_modified"
	MetaETag         = "etag"
	MetaContentType  = "content_type"
	MetaUserPrefix   = "x-amz-meta-"
)

const DefaultSignTimeout = 10 * time.Second

// Blob is content ready to commit. Open may be called once per attempt.
type Blob interface {
	Size() int64
	Open() (io.ReadCloser, error)
}

// Config configures an Adapter.
type Config struct {
	Client network.Client
	// Signer authorizes writes. Nil puts the adapter in read-only mode.
	Signer      network.Signer
	Retry       RetryPolicy
	SignTimeout time.Duration
	// TxRate limits transaction submissions per second. Zero is unlimited.
	TxRate  float64
	TxBurst int
}

// Adapter is the gateway's view of the network.
type Adapter struct {
	client      network.Client
	signer      network.Signer
	retry       RetryPolicy
	signTimeout time.Duration
	limiter     *rate.Limiter

	// orders nonce assignment and submission
	txMu sync.Mutex
}

func New(cfg Config) *Adapter {
	if cfg.SignTimeout <= 0 {
		cfg.SignTimeout = DefaultSignTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.TxRate > 0 {
		burst := cfg.TxBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.TxRate), burst)
	}
	return &Adapter{
		client:      cfg.Client,
		signer:      cfg.Signer,
		retry:       cfg.Retry,
		signTimeout: cfg.SignTimeout,
		limiter:     limiter,
	}
}

// ReadOnly reports whether the adapter has no signer.
func (a *Adapter) ReadOnly() bool {
	return a.signer == nil
}

// Wallet returns the signer's address. ok is false in read-only mode.
func (a *Adapter) Wallet() (network.Address, bool) {
	if a.signer == nil {
		return network.Address{}, false
	}
	return a.signer.Address(), true
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

// observe records the outcome of one adapter call.
func observe(op string, start time.Time, err error) {
	backendCalls.WithLabelValues(op, resultLabel(err)).Inc()
	backendDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// submit signs tx once and drives it to confirmation. Retries resubmit the
// same signed transaction, which the network accepts at most once.
func (a *Adapter) submit(ctx context.Context, op string, tx network.Transaction) (network.Receipt, error) {
	if a.signer == nil {
		return network.Receipt{}, &Error{Kind: KindInvalid, Op: op, Err: ErrReadOnly}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return network.Receipt{}, ctx.Err()
		}
		return network.Receipt{}, &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("submission rate: %w", err)}
	}

	a.txMu.Lock()
	stx, hash, err := a.signAndSubmit(ctx, op, tx)
	a.txMu.Unlock()
	if err != nil {
		return network.Receipt{}, err
	}

	pendingTxs.Inc()
	defer pendingTxs.Dec()

	var receipt network.Receipt
	err = a.retry.Do(ctx, op, func(ctx context.Context) error {
		r, err := a.client.WaitForReceipt(ctx, hash)
		if err != nil {
			err = wrap(op, err)
			if KindOf(err) == KindNotFound {
				// the network lost the transaction; resubmit it
				if _, serr := a.client.Submit(ctx, stx); serr != nil {
					return wrap(op, serr)
				}
				return &Error{Kind: KindUnavailable, Op: op, Err: err}
			}
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return network.Receipt{}, err
	}
	if receipt.Status != network.TxConfirmed {
		return receipt, &Error{Kind: KindRejected, Op: op, Err: fmt.Errorf("transaction %s failed: %s", hash.Hex(), receipt.Reason)}
	}

	logger.Ctx(ctx).Debug().
		Str("op", op).
		Str("tx", hash.Hex()).
		Uint64("height", receipt.Height).
		Msg("transaction confirmed")
	return receipt, nil
}

func (a *Adapter) signAndSubmit(ctx context.Context, op string, tx network.Transaction) (network.SignedTransaction, network.TxHash, error) {
	var stx network.SignedTransaction
	err := a.retry.Do(ctx, op, func(ctx context.Context) error {
		nonce, err := a.client.Nonce(ctx, a.signer.Address())
		if err != nil {
			return wrap(op, err)
		}
		tx.Nonce = nonce

		sctx, cancel := context.WithTimeout(ctx, a.signTimeout)
		defer cancel()
		stx, err = a.signer.Sign(sctx, tx)
		if err != nil {
			if ctx.Err() == nil && sctx.Err() != nil {
				return &Error{Kind: KindUnavailable, Op: op, Err: fmt.Errorf("sign: %w", err)}
			}
			return &Error{Kind: KindRejected, Op: op, Err: fmt.Errorf("sign: %w", err)}
		}
		return nil
	})
	if err != nil {
		return stx, network.TxHash{}, err
	}

	var hash network.TxHash
	err = a.retry.Do(ctx, op, func(ctx context.Context) error {
		h, err := a.client.Submit(ctx, stx)
		if err != nil {
			return wrap(op, err)
		}
		hash = h
		return nil
	})
	return stx, hash, err
}
