// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/network"
)

// ObjectMeta is what the gateway stores alongside object bytes.
type ObjectMeta struct {
	ETag         string
	ContentType  string
	UserMetadata map[string]string // without the x-amz-meta- prefix
	// LastModified defaults to the commit time.
	LastModified time.Time
}

// ObjectInfo is the committed state of an object.
type ObjectInfo struct {
	Key            string
	Size           int64
	ETag           string
	ContentType    string
	LastModified   time.Time
	ContentAddress string
	UserMetadata   map[string]string
	// Height orders commits of the same key; see network.Object.
	Height uint64
}

// ListOptions selects one page of a bucket listing.
type ListOptions struct {
	Prefix     string
	Delimiter  string
	StartAfter string
	MaxKeys    int
}

// ListPage is one page of a bucket listing.
type ListPage struct {
	Objects        []ObjectInfo
	CommonPrefixes []string
	Truncated      bool
	NextStartAfter string
}

func encodeMeta(meta ObjectMeta) map[string]string {
	m := make(map[string]string, len(meta.UserMetadata)+3)
	m[MetaETag] = meta.ETag
	m[MetaLastModified] = strconv.FormatInt(meta.LastModified.Unix(), 10)
	if meta.ContentType != "" {
		m[MetaContentType] = meta.ContentType
	}
	for k, v := range meta.UserMetadata {
		m[MetaUserPrefix+strings.ToLower(k)] = v
	}
	return m
}

func decodeObject(obj network.Object) ObjectInfo {
	info := ObjectInfo{
		Key:            obj.Key,
		Size:           obj.Size,
		ETag:           obj.Metadata[MetaETag],
		ContentType:    obj.Metadata[MetaContentType],
		ContentAddress: obj.Hash,
		Height:         obj.Height,
	}
	if secs, err := strconv.ParseInt(obj.Metadata[MetaLastModified], 10, 64); err == nil {
		info.LastModified = time.Unix(secs, 0).UTC()
	}
	for k, v := range obj.Metadata {
		if name, ok := strings.CutPrefix(k, MetaUserPrefix); ok {
			if info.UserMetadata == nil {
				info.UserMetadata = make(map[string]string)
			}
			info.UserMetadata[name] = v
		}
	}
	return info
}

func (a *Adapter) commit(ctx context.Context, op string, b BucketInfo, key, hash string, size int64, meta ObjectMeta) (ObjectInfo, error) {
	if meta.LastModified.IsZero() {
		meta.LastModified = time.Now()
	}
	meta.LastModified = meta.LastModified.UTC().Truncate(time.Second)

	tx := network.Transaction{
		Kind:      network.TxPutObject,
		Namespace: b.Address,
		Key:       key,
		Hash:      hash,
		Size:      uint64(size),
		Metadata:  encodeMeta(meta),
	}
	receipt, err := a.submit(ctx, op, tx)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Key:            key,
		Size:           size,
		ETag:           meta.ETag,
		ContentType:    meta.ContentType,
		LastModified:   meta.LastModified,
		ContentAddress: hash,
		UserMetadata:   meta.UserMetadata,
		Height:         receipt.Height,
	}, nil
}

// Put uploads blob and binds key to it. The key is visible once the
// transaction is confirmed; a concurrent overwrite that confirms later wins.
func (a *Adapter) Put(ctx context.Context, b BucketInfo, key string, blob Blob, meta ObjectMeta) (_ ObjectInfo, err error) {
	const op = "put_object"
	if a.ReadOnly() {
		return ObjectInfo{}, &Error{Kind: KindInvalid, Op: op, Err: ErrReadOnly}
	}
	start := time.Now()
	defer func() { observe(op, start, err) }()

	var hash string
	err = a.retry.Do(ctx, op, func(ctx context.Context) error {
		rc, err := blob.Open()
		if err != nil {
			return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf("open staged content: %w", err)}
		}
		defer rc.Close()
		h, err := a.client.UploadBlob(ctx, rc, blob.Size())
		if err != nil {
			return wrap(op, err)
		}
		hash = h
		return nil
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return a.commit(ctx, op, b, key, hash, blob.Size(), meta)
}

// Copy binds dstKey to the content of src without moving bytes.
func (a *Adapter) Copy(ctx context.Context, src ObjectInfo, dst BucketInfo, dstKey string, meta ObjectMeta) (_ ObjectInfo, err error) {
	const op = "copy_object"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	if meta.ETag == "" {
		meta.ETag = src.ETag
	}
	return a.commit(ctx, op, dst, dstKey, src.ContentAddress, src.Size, meta)
}

func (a *Adapter) Head(ctx context.Context, b BucketInfo, key string) (_ ObjectInfo, err error) {
	const op = "head_object"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	var obj network.Object
	err = a.retry.Do(ctx, op, func(ctx context.Context) error {
		o, err := a.client.Object(ctx, b.Address, key)
		if err != nil {
			return wrap(op, err)
		}
		obj = o
		return nil
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return decodeObject(obj), nil
}

// Get opens the bytes of o, optionally limited to rng. When o carries a
// content address and the key has since been rebound, Get fails with
// KindConflict instead of returning other content. Only opening the stream
// is retried.
func (a *Adapter) Get(ctx context.Context, b BucketInfo, o ObjectInfo, rng *network.ByteRange) (_ io.ReadCloser, err error) {
	const op = "get_object"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	var rc io.ReadCloser
	err = a.retry.Do(ctx, op, func(actx context.Context) error {
		// The stream outlives this attempt, so it is bound to ctx.
		r, err := a.client.Download(ctx, b.Address, o.Key, o.ContentAddress, rng)
		if err != nil {
			return wrap(op, err)
		}
		rc = r
		return nil
	})
	return rc, err
}

// Delete removes key. A missing key fails with KindNotFound.
func (a *Adapter) Delete(ctx context.Context, b BucketInfo, key string) (err error) {
	const op = "delete_object"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	_, err = a.submit(ctx, op, network.Transaction{
		Kind:      network.TxDeleteObject,
		Namespace: b.Address,
		Key:       key,
	})
	return err
}

func (a *Adapter) List(ctx context.Context, b BucketInfo, opts ListOptions) (_ ListPage, err error) {
	const op = "list_objects"
	start := time.Now()
	defer func() { observe(op, start, err) }()

	var res network.ListResult
	err = a.retry.Do(ctx, op, func(ctx context.Context) error {
		r, err := a.client.List(ctx, b.Address, network.ListQuery{
			Prefix:     opts.Prefix,
			Delimiter:  opts.Delimiter,
			StartAfter: opts.StartAfter,
			Limit:      opts.MaxKeys,
		})
		if err != nil {
			return wrap(op, err)
		}
		res = r
		return nil
	})
	if err != nil {
		return ListPage{}, err
	}

	page := ListPage{
		Objects:        make([]ObjectInfo, 0, len(res.Objects)),
		CommonPrefixes: res.CommonPrefixes,
		Truncated:      res.Truncated,
		NextStartAfter: res.NextStartAfter,
	}
	for _, obj := range res.Objects {
		page.Objects = append(page.Objects, decodeObject(obj))
	}
	return page, nil
}
