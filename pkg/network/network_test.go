// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySigner_SignAndRecover(t *testing.T) {
	t.Parallel()

	signer, err := GenerateKeySigner()
	require.NoError(t, err)

	tx := Transaction{
		Kind:      TxPutObject,
		Namespace: DeriveNamespaceAddress(signer.Address(), 0),
		Key:       "photos/cat.jpg",
		Hash:      "abc123",
		Size:      42,
		Metadata:  map[string]string{"etag": `"d41d8cd98f00b204e9800998ecf8427e"`, "alias": "photos"},
		Nonce:     7,
	}
	stx, err := signer.Sign(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), stx.Tx.From)

	sender, err := stx.Sender()
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), sender)

	t.Run("tampered payload", func(t *testing.T) {
		bad := stx
		bad.Tx.Key = "photos/dog.jpg"
		_, err := bad.Sender()
		assert.Error(t, err)
	})

	t.Run("forged sender", func(t *testing.T) {
		other, err := GenerateKeySigner()
		require.NoError(t, err)
		bad := stx
		bad.Tx.From = other.Address()
		_, err = bad.Sender()
		assert.Error(t, err)
	})
}

func TestTransaction_SigningHashIgnoresMapOrder(t *testing.T) {
	t.Parallel()

	a := Transaction{Kind: TxCreateNamespace, Metadata: map[string]string{"alias": "b", "creation_date": "1"}}
	b := Transaction{Kind: TxCreateNamespace, Metadata: map[string]string{"creation_date": "1", "alias": "b"}}
	ha, err := a.SigningHash()
	require.NoError(t, err)
	hb, err := b.SigningHash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.Nonce = 1
	hc, err := b.SigningHash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestNewKeySigner(t *testing.T) {
	t.Parallel()

	const key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	s1, err := NewKeySigner(key)
	require.NoError(t, err)
	s2, err := NewKeySigner("0x" + key)
	require.NoError(t, err)
	assert.Equal(t, s1.Address(), s2.Address())
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s1.Address().Hex())

	_, err = NewKeySigner("not-a-key")
	assert.Error(t, err)
}

func TestDeriveNamespaceAddress(t *testing.T) {
	t.Parallel()

	owner, err := ParseAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	require.NoError(t, err)
	a0 := DeriveNamespaceAddress(owner, 0)
	a1 := DeriveNamespaceAddress(owner, 1)
	assert.NotEqual(t, a0, a1)
	assert.Equal(t, a0, DeriveNamespaceAddress(owner, 0))
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	_, err := ParseAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	assert.NoError(t, err)
	_, err = ParseAddress("0x123")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = ParseAddress("photos")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func listFixture(keys ...string) (func(func(string) bool), func(string) Object) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	iterate := func(yield func(string) bool) {
		for _, k := range sorted {
			if !yield(k) {
				return
			}
		}
	}
	object := func(key string) Object { return Object{Key: key} }
	return iterate, object
}

func keysOf(res ListResult) []string {
	var out []string
	for _, o := range res.Objects {
		out = append(out, o.Key)
	}
	return out
}

func TestListKeys(t *testing.T) {
	t.Parallel()

	iterate, object := listFixture(
		"a.txt", "b/1", "b/2", "b/c/3", "c.txt", "d/4",
	)

	tests := []struct {
		name     string
		query    ListQuery
		keys     []string
		prefixes []string
		trunc    bool
		next     string
	}{
		{
			name:  "all",
			query: ListQuery{},
			keys:  []string{"a.txt", "b/1", "b/2", "b/c/3", "c.txt", "d/4"},
		},
		{
			name:     "delimiter",
			query:    ListQuery{Delimiter: "/"},
			keys:     []string{"a.txt", "c.txt"},
			prefixes: []string{"b/", "d/"},
		},
		{
			name:     "prefix and delimiter",
			query:    ListQuery{Prefix: "b/", Delimiter: "/"},
			keys:     []string{"b/1", "b/2"},
			prefixes: []string{"b/c/"},
		},
		{
			name:  "limit",
			query: ListQuery{Limit: 2},
			keys:  []string{"a.txt", "b/1"},
			trunc: true,
			next:  "b/1",
		},
		{
			name:  "start after",
			query: ListQuery{StartAfter: "b/2"},
			keys:  []string{"b/c/3", "c.txt", "d/4"},
		},
		{
			name:     "limit counts prefixes",
			query:    ListQuery{Delimiter: "/", Limit: 2},
			keys:     []string{"a.txt"},
			prefixes: []string{"b/"},
			trunc:    true,
			next:     "b/",
		},
		{
			name:     "resume after prefix",
			query:    ListQuery{Delimiter: "/", StartAfter: "b/"},
			keys:     []string{"c.txt"},
			prefixes: []string{"d/"},
		},
		{
			name:  "exact limit is not truncated",
			query: ListQuery{Prefix: "b/", Limit: 3},
			keys:  []string{"b/1", "b/2", "b/c/3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := ListKeys(tt.query, iterate, object)
			if diff := cmp.Diff(tt.keys, keysOf(res)); diff != "" {
				t.Errorf("keys mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.prefixes, res.CommonPrefixes); diff != "" {
				t.Errorf("prefixes mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.trunc, res.Truncated)
			assert.Equal(t, tt.next, res.NextStartAfter)
		})
	}
}

func TestConfigEndpoints(t *testing.T) {
	t.Parallel()

	e, err := Config{Network: Localnet}.Endpoints()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:26657", e.RPCURL)

	_, err = Config{Network: Testnet}.Endpoints()
	assert.Error(t, err)

	e, err = Config{Network: Testnet, RPCURL: "http://rpc.example:26657"}.Endpoints()
	require.NoError(t, err)
	assert.Equal(t, "http://rpc.example:26657", e.RPCURL)

	_, err = ParsePreset("moonnet")
	assert.Error(t, err)
}

func TestNew_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}
