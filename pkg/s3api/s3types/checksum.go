// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3types

import (
	"net/http"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
)

// ChecksumAlgorithm is a flexible checksum a client may attach to a PUT.
type ChecksumAlgorithm uint8

const (
	ChecksumAlgorithmNone ChecksumAlgorithm = iota
	ChecksumAlgorithmCRC32
	ChecksumAlgorithmCRC32C
	ChecksumAlgorithmCRC64NVMe
	ChecksumAlgorithmSHA256
)

var (
	checksumAlgorithmTypes = map[ChecksumAlgorithm]string{
		ChecksumAlgorithmNone:      "NONE",
		ChecksumAlgorithmCRC32:     "CRC32",
		ChecksumAlgorithmCRC32C:    "CRC32C",
		ChecksumAlgorithmCRC64NVMe: "CRC64NVME",
		ChecksumAlgorithmSHA256:    "SHA256",
	}
	checksumHeaders = map[ChecksumAlgorithm]string{
		ChecksumAlgorithmCRC32:     s3consts.XAmzChecksumCRC32,
		ChecksumAlgorithmCRC32C:    s3consts.XAmzChecksumCRC32C,
		ChecksumAlgorithmCRC64NVMe: s3consts.XAmzChecksumCRC64NVMe,
		ChecksumAlgorithmSHA256:    s3consts.XAmzChecksumSHA256,
	}
)

func (c ChecksumAlgorithm) String() string {
	if name, ok := checksumAlgorithmTypes[c]; ok {
		return name
	}
	return "NONE"
}

// Header returns the x-amz-checksum-* header carrying this checksum.
func (c ChecksumAlgorithm) Header() string {
	return checksumHeaders[c]
}

func ParseChecksumAlgorithm(s string) (ChecksumAlgorithm, error) {
	for alg, name := range checksumAlgorithmTypes {
		if name == s && alg != ChecksumAlgorithmNone {
			return alg, nil
		}
	}
	return ChecksumAlgorithmNone, s3err.ErrInvalidDigest
}

// ExpectedChecksum is a client-declared flexible checksum, base64 encoded.
type ExpectedChecksum struct {
	Algorithm ChecksumAlgorithm
	Value     string
}

// ChecksumFromHeader returns the first x-amz-checksum-* value found in h. The
// second result is false when the client declared none.
func ChecksumFromHeader(h http.Header) (ExpectedChecksum, bool) {
	for _, alg := range []ChecksumAlgorithm{
		ChecksumAlgorithmCRC32,
		ChecksumAlgorithmCRC32C,
		ChecksumAlgorithmCRC64NVMe,
		ChecksumAlgorithmSHA256,
	} {
		if v := h.Get(alg.Header()); v != "" {
			return ExpectedChecksum{Algorithm: alg, Value: v}, true
		}
	}
	return ExpectedChecksum{}, false
}
