// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package network defines the client contract for the decentralized storage
// network and a registry of drivers implementing it.
package network

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Client is the low-level interface to the storage network. Writes are two
// steps: the blob is uploaded by content, then a signed transaction binds a
// key to it. Every method may fail with ErrUnavailable; transactions may
// also fail with ErrRejected.
type Client interface {
	// UploadBlob stores size bytes and returns their content address. Uploading
	// the same bytes twice returns the same address.
	UploadBlob(ctx context.Context, r io.Reader, size int64) (string, error)
	// Submit sends a signed transaction and returns its hash.
	Submit(ctx context.Context, tx SignedTransaction) (TxHash, error)
	// WaitForReceipt blocks until the transaction is final or ctx ends.
	WaitForReceipt(ctx context.Context, hash TxHash) (Receipt, error)
	// Nonce returns the next transaction nonce of addr.
	Nonce(ctx context.Context, addr Address) (uint64, error)

	Namespaces(ctx context.Context, owner Address) ([]Namespace, error)
	Namespace(ctx context.Context, addr Address) (Namespace, error)
	Object(ctx context.Context, ns Address, key string) (Object, error)
	List(ctx context.Context, ns Address, q ListQuery) (ListResult, error)
	// Download streams the blob bound to key. A non-empty hash must equal the
	// content address bound to key, otherwise Download fails with
	// ErrConflict. A nil range reads everything.
	Download(ctx context.Context, ns Address, key, hash string, rng *ByteRange) (io.ReadCloser, error)

	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver       string
	Network      Preset
	RPCURL       string
	ObjectAPIURL string

	// s3 driver
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// memory driver: delay before a submitted transaction is confirmed
	ConfirmDelay time.Duration
}

// Factory creates a Client from config
type Factory func(cfg Config) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a factory for a driver name
func Register(driver string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[driver] = f
}

// New creates a Client from config
func New(cfg Config) (Client, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Driver]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown network driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	return f(cfg)
}

// Drivers lists registered driver names
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Preset names a known deployment of the network.
type Preset string

const (
	Mainnet  Preset = "mainnet"
	Testnet  Preset = "testnet"
	Localnet Preset = "localnet"
	Devnet   Preset = "devnet"
)

// Endpoints are the default RPC and object API URLs of a preset.
type Endpoints struct {
	RPCURL       string
	ObjectAPIURL string
}

// Mainnet and testnet endpoints are distributed with the network's SDK
// configuration and must be passed explicitly; local presets assume the
// standard single-host ports.
var presets = map[Preset]Endpoints{
	Mainnet:  {},
	Testnet:  {},
	Localnet: {RPCURL: "http://127.0.0.1:26657", ObjectAPIURL: "http://127.0.0.1:8001"},
	Devnet:   {RPCURL: "http://127.0.0.1:26657", ObjectAPIURL: "http://127.0.0.1:8001"},
}

// ParsePreset validates a preset name.
func ParsePreset(name string) (Preset, error) {
	p := Preset(name)
	if _, ok := presets[p]; !ok {
		return "", fmt.Errorf("unknown network %q", name)
	}
	return p, nil
}

// Endpoints returns the preset's defaults overridden by explicit URLs. It
// fails when the result has no RPC URL.
func (c Config) Endpoints() (Endpoints, error) {
	e := presets[c.Network]
	if c.RPCURL != "" {
		e.RPCURL = c.RPCURL
	}
	if c.ObjectAPIURL != "" {
		e.ObjectAPIURL = c.ObjectAPIURL
	}
	if e.RPCURL == "" {
		return Endpoints{}, fmt.Errorf("network %q has no default RPC URL; set --rpc_url", c.Network)
	}
	return e, nil
}
