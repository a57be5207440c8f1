// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/logger"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/utils"
)

// BucketInfo is a namespace seen as an S3 bucket.
type BucketInfo struct {
	// Name is the S3 name: the bare alias for buckets of the gateway wallet,
	// "0xOWNER.alias" otherwise.
	Name         string
	Alias        string
	Owner        network.Address
	Address      network.Address
	CreationDate time.Time
	// Height orders namespaces that share an alias; the lowest one is the
	// bucket.
	Height uint64
}

var errOwnerRequired = errors.New("bucket name must carry an owner address when no wallet is configured")

func (a *Adapter) bucketInfo(ns network.Namespace) BucketInfo {
	alias := ns.Metadata[MetaAlias]
	name := alias
	if wallet, ok := a.Wallet(); !ok || wallet != ns.Owner {
		name = ns.Owner.Hex() + "." + alias
	}
	var created time.Time
	if secs, err := strconv.ParseInt(ns.Metadata[MetaCreationDate], 10, 64); err == nil {
		created = time.Unix(secs, 0).UTC()
	}
	return BucketInfo{
		Name:         name,
		Alias:        alias,
		Owner:        ns.Owner,
		Address:      ns.Address,
		CreationDate: created,
		Height:       ns.Height,
	}
}

// ParseBucket splits an S3 bucket name into owner and alias. Bare aliases
// belong to the gateway wallet.
func (a *Adapter) ParseBucket(name string) (network.Address, string, error) {
	const op = "parse_bucket"
	bn, err := utils.ParseBucketName(name)
	if err != nil {
		return network.Address{}, "", &Error{Kind: KindInvalid, Op: op, Err: err}
	}
	if bn.HasOwner() {
		owner, err := network.ParseAddress(bn.Owner)
		if err != nil {
			return network.Address{}, "", &Error{Kind: KindInvalid, Op: op, Err: err}
		}
		return owner, bn.Alias, nil
	}
	wallet, ok := a.Wallet()
	if !ok {
		return network.Address{}, "", &Error{Kind: KindInvalid, Op: op, Err: errOwnerRequired}
	}
	return wallet, bn.Alias, nil
}

// BucketsOf lists the namespaces of owner that carry an alias, sorted by
// name.
func (a *Adapter) BucketsOf(ctx context.Context, owner network.Address) (_ []BucketInfo, err error) {
	const op = "list_buckets"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	var namespaces []network.Namespace
	err = a.retry.Do(ctx, op, func(ctx context.Context) error {
		ns, err := a.client.Namespaces(ctx, owner)
		if err != nil {
			return wrap(op, err)
		}
		namespaces = ns
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]BucketInfo, 0, len(namespaces))
	for _, ns := range namespaces {
		if ns.Metadata[MetaAlias] == "" {
			continue
		}
		out = append(out, a.bucketInfo(ns))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].CreationDate.Before(out[j].CreationDate)
	})
	return out, nil
}

// ListBuckets lists the buckets of the gateway wallet.
func (a *Adapter) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	wallet, ok := a.Wallet()
	if !ok {
		return nil, &Error{Kind: KindInvalid, Op: "list_buckets", Err: ErrReadOnly}
	}
	return a.BucketsOf(ctx, wallet)
}

// ResolveBucket finds the namespace an S3 bucket name refers to. When an
// owner has several namespaces with one alias the oldest wins.
func (a *Adapter) ResolveBucket(ctx context.Context, name string) (BucketInfo, error) {
	owner, alias, err := a.ParseBucket(name)
	if err != nil {
		return BucketInfo{}, err
	}
	buckets, err := a.BucketsOf(ctx, owner)
	if err != nil {
		return BucketInfo{}, err
	}
	for _, b := range buckets {
		if b.Alias == alias {
			return b, nil
		}
	}
	return BucketInfo{}, &Error{Kind: KindNotFound, Op: "resolve_bucket", Err: fmt.Errorf("bucket %q", name)}
}

// CreateBucket creates a namespace owned by the gateway wallet. It fails
// with KindConflict when the wallet already has the alias. A namespace that
// loses a concurrent create of the same alias is deleted again.
func (a *Adapter) CreateBucket(ctx context.Context, name string) (_ BucketInfo, err error) {
	const op = "create_bucket"
	wallet, ok := a.Wallet()
	if !ok {
		return BucketInfo{}, &Error{Kind: KindInvalid, Op: op, Err: ErrReadOnly}
	}
	owner, alias, err := a.ParseBucket(name)
	if err != nil {
		return BucketInfo{}, err
	}
	if owner != wallet {
		return BucketInfo{}, &Error{Kind: KindRejected, Op: op, Err: fmt.Errorf("cannot create a bucket for %s", owner.Hex())}
	}

	_, err = a.ResolveBucket(ctx, name)
	switch {
	case err == nil:
		return BucketInfo{}, &Error{Kind: KindConflict, Op: op, Err: fmt.Errorf("bucket %q exists", name)}
	case KindOf(err) != KindNotFound:
		return BucketInfo{}, err
	}

	start := time.Now()
	defer func() { observe(op, start, err) }()

	created := time.Now().UTC().Truncate(time.Second)
	receipt, err := a.submit(ctx, op, network.Transaction{
		Kind: network.TxCreateNamespace,
		Metadata: map[string]string{
			MetaAlias:        alias,
			MetaCreationDate: strconv.FormatInt(created.Unix(), 10),
		},
	})
	if err != nil {
		return BucketInfo{}, err
	}
	b := BucketInfo{
		Name:         alias,
		Alias:        alias,
		Owner:        wallet,
		Address:      receipt.Namespace,
		CreationDate: created,
		Height:       receipt.Height,
	}

	winner, rerr := a.ResolveBucket(ctx, name)
	if rerr != nil {
		logger.Ctx(ctx).Warn().Err(rerr).Str("namespace", b.Address.Hex()).Msg("could not confirm bucket ownership of alias")
		return b, nil
	}
	if winner.Address != b.Address {
		if derr := a.DeleteBucket(ctx, b); derr != nil {
			logger.Ctx(ctx).Error().Err(derr).Str("namespace", b.Address.Hex()).Msg("failed to delete duplicate namespace")
		}
		return BucketInfo{}, &Error{Kind: KindConflict, Op: op, Err: fmt.Errorf("bucket %q was created concurrently", name)}
	}
	return b, nil
}

// DeleteBucket removes an empty namespace. A non-empty one fails with
// KindConflict.
func (a *Adapter) DeleteBucket(ctx context.Context, b BucketInfo) (err error) {
	const op = "delete_bucket"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	_, err = a.submit(ctx, op, network.Transaction{
		Kind:      network.TxDeleteNamespace,
		Namespace: b.Address,
	})
	return err
}
