// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"errors"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is an account or namespace address on the network.
type Address = common.Address

// TxHash identifies a submitted transaction.
type TxHash = common.Hash

// ZeroAddress is the unset address.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

var (
	// ErrNotFound is returned by queries for a namespace, object or blob that
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a transient transport failure. Callers may retry.
	ErrUnavailable = errors.New("network unavailable")
	// ErrRejected marks a transaction the network refused: bad signature,
	// insufficient funds, invalid payload. Retrying cannot help.
	ErrRejected = errors.New("transaction rejected")
	// ErrConflict is returned when a namespace is deleted while not empty, or
	// when a key no longer holds the expected content.
	ErrConflict = errors.New("conflict")
	// ErrInvalidAddress is returned for malformed addresses.
	ErrInvalidAddress = errors.New("invalid address")
)

// Namespace is a bucket on the network. Metadata carries the S3 alias and
// creation date.
type Namespace struct {
	Address  Address
	Owner    Address
	Metadata map[string]string
	// Height is the chain height of the creating transaction.
	Height uint64
}

// Object is the committed state of one key in a namespace.
type Object struct {
	Key      string
	Size     int64
	Hash     string // content address of the blob
	Metadata map[string]string
	// Height is the chain height of the commit that bound the key. A later
	// commit of the same key always has a greater height.
	Height uint64
}

// ByteRange selects Length bytes starting at Offset.
type ByteRange struct {
	Offset int64
	Length int64
}

// ListQuery selects objects of one namespace in key order.
type ListQuery struct {
	Prefix     string
	Delimiter  string
	StartAfter string // exclusive
	Limit      int
}

// ListResult is one page of a namespace listing. Objects and CommonPrefixes
// together never exceed the query limit. NextStartAfter continues the listing
// when Truncated is set.
type ListResult struct {
	Objects        []Object
	CommonPrefixes []string
	Truncated      bool
	NextStartAfter string
}

// ListKeys applies a ListQuery to keys in ascending order. It is shared by
// drivers that hold an ordered key set locally. The iterator must yield keys
// > q.StartAfter that start with q.Prefix, and stop when yield returns false.
func ListKeys(q ListQuery, iterate func(yield func(key string) bool), object func(key string) Object) ListResult {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	var res ListResult
	var lastPrefix string
	count := 0
	iterate(func(key string) bool {
		if key <= q.StartAfter || !strings.HasPrefix(key, q.Prefix) {
			return true
		}
		if q.Delimiter != "" {
			rest := key[len(q.Prefix):]
			if i := strings.Index(rest, q.Delimiter); i >= 0 {
				cp := q.Prefix + rest[:i+len(q.Delimiter)]
				if cp == lastPrefix || cp <= q.StartAfter {
					return true
				}
				if count == limit {
					res.Truncated = true
					return false
				}
				lastPrefix = cp
				res.CommonPrefixes = append(res.CommonPrefixes, cp)
				res.NextStartAfter = cp
				count++
				return true
			}
		}
		if count == limit {
			res.Truncated = true
			return false
		}
		res.Objects = append(res.Objects, object(key))
		res.NextStartAfter = key
		count++
		return true
	})
	if !res.Truncated {
		res.NextStartAfter = ""
	}
	return res
}

// MetadataEntry is one metadata pair in canonical (sorted) order.
type MetadataEntry struct {
	Key   string
	Value string
}

// SortedMetadata returns m as entries sorted by key.
func SortedMetadata(m map[string]string) []MetadataEntry {
	out := make([]MetadataEntry, 0, len(m))
	for k, v := range m {
		out = append(out, MetadataEntry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CloneMetadata copies m. A nil map stays nil.
func CloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
