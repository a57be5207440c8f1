// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3 runs the network contract against an S3-compatible blob node.
// Blobs, namespace records and object pointers are stored as objects of one
// bucket; transactions are validated and applied by this process, which must
// be the only writer of the bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3sdk "github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

const DriverName = "s3"

const (
	blobPrefix      = "blobs/"
	namespacePrefix = "namespaces/"
	ownerPrefix     = "owners/"
	objectPrefix    = "objects/"
	noncePrefix     = "nonces/"

	fetchConcurrency = 16
)

func init() {
	network.Register(DriverName, New)
}

type namespaceRecord struct {
	Owner    string            `json:"owner"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Height   uint64            `json:"height"`
}

type objectRecord struct {
	Size     int64             `json:"size"`
	Hash     string            `json:"hash"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Height   uint64            `json:"height"`
}

// Client is a network.Client over an S3 bucket.
type Client struct {
	client *s3sdk.Client
	bucket string

	// serializes transaction validation and application
	txMu sync.Mutex

	mu       sync.RWMutex
	receipts map[network.TxHash]network.Receipt
	height   uint64
}

var _ network.Client = (*Client)(nil)

// New creates an S3-backed client. The endpoint defaults to the preset's
// object API URL.
func New(cfg network.Config) (network.Client, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket required for the s3 network driver")
	}

	endpoint := cfg.S3Endpoint
	if endpoint == "" {
		if e, err := cfg.Endpoints(); err == nil {
			endpoint = e.ObjectAPIURL
		}
	}

	opts := []func(*config.LoadOptions) error{}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	opts = append(opts, config.WithRegion(region))

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Opts := []func(*s3sdk.Options){
		func(o *s3sdk.Options) {
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		},
	}
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3sdk.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &Client{
		client:   s3sdk.NewFromConfig(awsCfg, s3Opts...),
		bucket:   cfg.S3Bucket,
		receipts: make(map[network.TxHash]network.Receipt),
	}, nil
}

// classify maps SDK errors onto the network sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		switch code := re.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %s: %v", network.ErrNotFound, op, err)
		case code == http.StatusConflict || code == http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %s: %v", network.ErrConflict, op, err)
		case code == http.StatusTooManyRequests || code >= 500:
			return fmt.Errorf("%w: %s: %v", network.ErrUnavailable, op, err)
		case code >= 400:
			return fmt.Errorf("%w: %s: %v", network.ErrRejected, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", network.ErrUnavailable, op, err)
}

func (c *Client) put(ctx context.Context, key string, body []byte) error {
	_, err := c.client.PutObject(ctx, &s3sdk.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	return classify("put "+key, err)
}

func (c *Client) get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3sdk.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get "+key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", network.ErrUnavailable, key, err)
	}
	return b, nil
}

func (c *Client) exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3sdk.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	err = classify("head "+key, err)
	if errors.Is(err, network.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (c *Client) remove(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3sdk.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return classify("delete "+key, err)
}

// keys walks keys under prefix in ascending order, starting after startAfter,
// until yield returns false.
func (c *Client) keys(ctx context.Context, prefix, startAfter string, yield func(string) bool) error {
	input := &s3sdk.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}
	p := s3sdk.NewListObjectsV2Paginator(c.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return classify("list "+prefix, err)
		}
		for _, obj := range page.Contents {
			if !yield(aws.ToString(obj.Key)) {
				return nil
			}
		}
	}
	return nil
}

func blobKey(hash string) string { return blobPrefix + hash }

func namespaceKey(addr network.Address) string { return namespacePrefix + addr.Hex() }

func ownerKey(owner, addr network.Address) string {
	return ownerPrefix + owner.Hex() + "/" + addr.Hex()
}

func objectBase(ns network.Address) string { return objectPrefix + ns.Hex() + "/" }

func nonceKey(addr network.Address) string { return noncePrefix + addr.Hex() }

func (c *Client) UploadBlob(ctx context.Context, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: read blob: %v", network.ErrUnavailable, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("%w: blob size %d, declared %d", network.ErrRejected, len(data), size)
	}
	sum := utils.Sha256Sum(data)
	hash := hex.EncodeToString(sum[:])

	ok, err := c.exists(ctx, blobKey(hash))
	if err != nil {
		return "", err
	}
	if ok {
		return hash, nil
	}
	if err := c.put(ctx, blobKey(hash), data); err != nil {
		return "", err
	}
	return hash, nil
}

func (c *Client) Nonce(ctx context.Context, addr network.Address) (uint64, error) {
	b, err := c.get(ctx, nonceKey(addr))
	if errors.Is(err, network.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt nonce record for %s", network.ErrUnavailable, addr.Hex())
	}
	return n, nil
}

func (c *Client) namespace(ctx context.Context, addr network.Address) (namespaceRecord, error) {
	var rec namespaceRecord
	b, err := c.get(ctx, namespaceKey(addr))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("%w: corrupt namespace record %s: %v", network.ErrUnavailable, addr.Hex(), err)
	}
	return rec, nil
}

func (c *Client) owned(ctx context.Context, tx network.Transaction) error {
	rec, err := c.namespace(ctx, tx.Namespace)
	if err != nil {
		return err
	}
	if !strings.EqualFold(rec.Owner, tx.From.Hex()) {
		return fmt.Errorf("%w: %s does not own namespace %s", network.ErrRejected, tx.From.Hex(), tx.Namespace.Hex())
	}
	return nil
}

func (c *Client) Submit(ctx context.Context, stx network.SignedTransaction) (network.TxHash, error) {
	if _, err := stx.Sender(); err != nil {
		return network.TxHash{}, fmt.Errorf("%w: %v", network.ErrRejected, err)
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.RLock()
	_, seen := c.receipts[stx.Hash]
	c.mu.RUnlock()
	if seen {
		return stx.Hash, nil
	}

	tx := stx.Tx
	nonce, err := c.Nonce(ctx, tx.From)
	if err != nil {
		return network.TxHash{}, err
	}
	if tx.Nonce != nonce {
		return network.TxHash{}, fmt.Errorf("%w: nonce %d, expected %d", network.ErrRejected, tx.Nonce, nonce)
	}

	// Heights follow the wall clock so they keep increasing across restarts.
	c.mu.Lock()
	c.height = max(c.height+1, uint64(time.Now().UnixNano()))
	receipt := network.Receipt{TxHash: stx.Hash, Status: network.TxConfirmed, Height: c.height}
	c.mu.Unlock()

	if err := c.apply(ctx, tx, &receipt); err != nil {
		return network.TxHash{}, err
	}
	if err := c.put(ctx, nonceKey(tx.From), []byte(strconv.FormatUint(nonce+1, 10))); err != nil {
		return network.TxHash{}, err
	}

	c.mu.Lock()
	receipt.Time = time.Now()
	c.receipts[stx.Hash] = receipt
	c.mu.Unlock()
	return stx.Hash, nil
}

func (c *Client) apply(ctx context.Context, tx network.Transaction, receipt *network.Receipt) error {
	switch tx.Kind {
	case network.TxCreateNamespace:
		addr := network.DeriveNamespaceAddress(tx.From, tx.Nonce)
		b, err := json.Marshal(namespaceRecord{Owner: tx.From.Hex(), Metadata: tx.Metadata, Height: receipt.Height})
		if err != nil {
			return err
		}
		if err := c.put(ctx, namespaceKey(addr), b); err != nil {
			return err
		}
		if err := c.put(ctx, ownerKey(tx.From, addr), nil); err != nil {
			return err
		}
		receipt.Namespace = addr
		return nil

	case network.TxDeleteNamespace:
		if err := c.owned(ctx, tx); err != nil {
			return err
		}
		empty := true
		err := c.keys(ctx, objectBase(tx.Namespace), "", func(string) bool {
			empty = false
			return false
		})
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%w: namespace %s is not empty", network.ErrConflict, tx.Namespace.Hex())
		}
		if err := c.remove(ctx, ownerKey(tx.From, tx.Namespace)); err != nil {
			return err
		}
		return c.remove(ctx, namespaceKey(tx.Namespace))

	case network.TxPutObject:
		if err := c.owned(ctx, tx); err != nil {
			return err
		}
		if tx.Key == "" {
			return fmt.Errorf("%w: empty key", network.ErrRejected)
		}
		ok, err := c.exists(ctx, blobKey(tx.Hash))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: blob %s not uploaded", network.ErrRejected, tx.Hash)
		}
		b, err := json.Marshal(objectRecord{Size: int64(tx.Size), Hash: tx.Hash, Metadata: tx.Metadata, Height: receipt.Height})
		if err != nil {
			return err
		}
		return c.put(ctx, objectBase(tx.Namespace)+tx.Key, b)

	case network.TxDeleteObject:
		if err := c.owned(ctx, tx); err != nil {
			return err
		}
		ok, err := c.exists(ctx, objectBase(tx.Namespace)+tx.Key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: object %q", network.ErrNotFound, tx.Key)
		}
		return c.remove(ctx, objectBase(tx.Namespace)+tx.Key)

	default:
		return fmt.Errorf("%w: unknown transaction kind %d", network.ErrRejected, tx.Kind)
	}
}

// WaitForReceipt returns immediately: transactions are final once Submit
// returns.
func (c *Client) WaitForReceipt(ctx context.Context, hash network.TxHash) (network.Receipt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.receipts[hash]
	if !ok {
		return network.Receipt{}, fmt.Errorf("%w: transaction %s", network.ErrNotFound, hash.Hex())
	}
	return r, nil
}

func (c *Client) Namespaces(ctx context.Context, owner network.Address) ([]network.Namespace, error) {
	prefix := ownerPrefix + owner.Hex() + "/"
	var addrs []network.Address
	err := c.keys(ctx, prefix, "", func(key string) bool {
		if addr, err := network.ParseAddress(strings.TrimPrefix(key, prefix)); err == nil {
			addrs = append(addrs, addr)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([]network.Namespace, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			ns, err := c.Namespace(gctx, addr)
			if err != nil {
				return err
			}
			out[i] = ns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Namespace(ctx context.Context, addr network.Address) (network.Namespace, error) {
	rec, err := c.namespace(ctx, addr)
	if err != nil {
		return network.Namespace{}, err
	}
	owner, err := network.ParseAddress(rec.Owner)
	if err != nil {
		return network.Namespace{}, fmt.Errorf("%w: namespace %s: %v", network.ErrUnavailable, addr.Hex(), err)
	}
	return network.Namespace{Address: addr, Owner: owner, Metadata: rec.Metadata, Height: rec.Height}, nil
}

func (c *Client) Object(ctx context.Context, ns network.Address, key string) (network.Object, error) {
	if _, err := c.namespace(ctx, ns); err != nil {
		return network.Object{}, err
	}
	b, err := c.get(ctx, objectBase(ns)+key)
	if err != nil {
		return network.Object{}, err
	}
	var rec objectRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return network.Object{}, fmt.Errorf("%w: corrupt object record %q: %v", network.ErrUnavailable, key, err)
	}
	return network.Object{Key: key, Size: rec.Size, Hash: rec.Hash, Metadata: rec.Metadata, Height: rec.Height}, nil
}

func (c *Client) List(ctx context.Context, ns network.Address, q network.ListQuery) (network.ListResult, error) {
	if _, err := c.namespace(ctx, ns); err != nil {
		return network.ListResult{}, err
	}
	base := objectBase(ns)
	startAfter := ""
	if q.StartAfter != "" {
		startAfter = base + q.StartAfter
	}

	var listErr error
	iterate := func(yield func(string) bool) {
		listErr = c.keys(ctx, base+q.Prefix, startAfter, func(key string) bool {
			return yield(strings.TrimPrefix(key, base))
		})
	}
	res := network.ListKeys(q, iterate, func(key string) network.Object {
		return network.Object{Key: key}
	})
	if listErr != nil {
		return network.ListResult{}, listErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range res.Objects {
		g.Go(func() error {
			obj, err := c.Object(gctx, ns, res.Objects[i].Key)
			if err != nil {
				return err
			}
			res.Objects[i] = obj
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return network.ListResult{}, err
	}
	return res, nil
}

func (c *Client) Download(ctx context.Context, ns network.Address, key, hash string, rng *network.ByteRange) (io.ReadCloser, error) {
	obj, err := c.Object(ctx, ns, key)
	if err != nil {
		return nil, err
	}
	if hash != "" && obj.Hash != hash {
		return nil, fmt.Errorf("%w: object %q was overwritten", network.ErrConflict, key)
	}
	input := &s3sdk.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(blobKey(obj.Hash)),
	}
	if rng != nil {
		if rng.Length <= 0 || rng.Offset >= obj.Size {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Length-1))
	}
	out, err := c.client.GetObject(ctx, input)
	if err != nil {
		return nil, classify("download "+key, err)
	}
	return out.Body, nil
}

func (c *Client) Close() error {
	return nil
}
