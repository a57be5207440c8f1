// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"crypto/md5"
	"hash"
	"hash/crc32"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

// CopyBufferSize is the size of buffers handed out by CopyBufferPool.
const CopyBufferSize = 256 << 10

var (
	md5Pool = sync.Pool{
		New: func() any { return md5.New() },
	}
	sha256Pool = sync.Pool{
		New: func() any { return sha256.New() },
	}
	crc32cTable = crc32.MakeTable(crc32.Castagnoli)
	crc64Pool   = sync.Pool{
		New: func() any { return crc64nvme.New() },
	}
	copyBufPool = sync.Pool{
		New: func() any {
			b := make([]byte, CopyBufferSize)
			return &b
		},
	}
)

func Md5PoolGetHasher() hash.Hash {
	return md5Pool.Get().(hash.Hash)
}

func Md5PoolPutHasher(h hash.Hash) {
	h.Reset()
	md5Pool.Put(h)
}

func Sha256PoolGetHasher() hash.Hash {
	return sha256Pool.Get().(hash.Hash)
}

func Sha256PoolPutHasher(h hash.Hash) {
	h.Reset()
	sha256Pool.Put(h)
}

func Crc64nvmePoolGetHasher() hash.Hash64 {
	return crc64Pool.Get().(hash.Hash64)
}

func Crc64nvmePoolPutHasher(h hash.Hash64) {
	h.Reset()
	crc64Pool.Put(h)
}

// NewCrc32c returns a Castagnoli CRC32 hasher. The table is shared.
func NewCrc32c() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// GetCopyBuffer returns a reusable buffer for io.CopyBuffer.
func GetCopyBuffer() *[]byte {
	return copyBufPool.Get().(*[]byte)
}

func PutCopyBuffer(b *[]byte) {
	copyBufPool.Put(b)
}

// Sha256Sum hashes b with the SIMD implementation.
func Sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
