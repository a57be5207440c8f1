// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxKind is the operation a transaction performs.
type TxKind uint8

const (
	TxCreateNamespace TxKind = iota + 1
	TxDeleteNamespace
	TxPutObject
	TxDeleteObject
)

func (k TxKind) String() string {
	switch k {
	case TxCreateNamespace:
		return "create_namespace"
	case TxDeleteNamespace:
		return "delete_namespace"
	case TxPutObject:
		return "put_object"
	case TxDeleteObject:
		return "delete_object"
	default:
		return "unknown"
	}
}

// Transaction is a state change submitted to the network. Put transactions
// reference a blob already uploaded by content address.
type Transaction struct {
	Kind      TxKind
	From      Address
	Namespace Address
	Key       string
	Hash      string
	Size      uint64
	Metadata  map[string]string
	Nonce     uint64
}

// rlpTransaction is the canonical encoding that gets signed.
type rlpTransaction struct {
	Kind      uint8
	From      Address
	Namespace Address
	Key       string
	Hash      string
	Size      uint64
	Metadata  []MetadataEntry
	Nonce     uint64
}

// SigningHash is keccak256 over the RLP encoding of the transaction with
// metadata in sorted order.
func (tx Transaction) SigningHash() (TxHash, error) {
	enc, err := rlp.EncodeToBytes(rlpTransaction{
		Kind:      uint8(tx.Kind),
		From:      tx.From,
		Namespace: tx.Namespace,
		Key:       tx.Key,
		Hash:      tx.Hash,
		Size:      tx.Size,
		Metadata:  SortedMetadata(tx.Metadata),
		Nonce:     tx.Nonce,
	})
	if err != nil {
		return TxHash{}, fmt.Errorf("encode transaction: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// SignedTransaction carries a 65 byte [R || S || V] secp256k1 signature over
// Tx.SigningHash.
type SignedTransaction struct {
	Tx        Transaction
	Hash      TxHash
	Signature []byte
}

// Sender recovers the signing address and checks it against Tx.From.
func (s SignedTransaction) Sender() (Address, error) {
	hash, err := s.Tx.SigningHash()
	if err != nil {
		return Address{}, err
	}
	if hash != s.Hash {
		return Address{}, errors.New("transaction hash mismatch")
	}
	pub, err := crypto.SigToPub(hash.Bytes(), s.Signature)
	if err != nil {
		return Address{}, fmt.Errorf("recover signer: %w", err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	if addr != s.Tx.From {
		return Address{}, fmt.Errorf("signed by %s, not %s", addr.Hex(), s.Tx.From.Hex())
	}
	return addr, nil
}

// TxStatus is the final state of a submitted transaction.
type TxStatus uint8

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

// Receipt reports the outcome of a transaction. Namespace is set for
// TxCreateNamespace.
type Receipt struct {
	TxHash    TxHash
	Status    TxStatus
	Reason    string
	Namespace Address
	Height    uint64
	Time      time.Time
}

// Signer authorizes transactions on behalf of one account.
type Signer interface {
	Address() Address
	Sign(ctx context.Context, tx Transaction) (SignedTransaction, error)
}

// KeySigner signs with a secp256k1 private key held in memory.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	if len(hexKey) >= 2 && (hexKey[:2] == "0x" || hexKey[:2] == "0X") {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *KeySigner) Address() Address {
	return s.addr
}

func (s *KeySigner) Sign(ctx context.Context, tx Transaction) (SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return SignedTransaction{}, err
	}
	tx.From = s.addr
	hash, err := tx.SigningHash()
	if err != nil {
		return SignedTransaction{}, err
	}
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("sign transaction: %w", err)
	}
	return SignedTransaction{Tx: tx, Hash: hash, Signature: sig}, nil
}

// DeriveNamespaceAddress is the address a namespace created by owner with
// the given nonce receives, the way contract addresses are derived.
func DeriveNamespaceAddress(owner Address, nonce uint64) Address {
	return crypto.CreateAddress(owner, nonce)
}
