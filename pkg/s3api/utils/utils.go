// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3consts"
)

var (
	ErrInvalidBucketName = errors.New("invalid bucket name")
	ErrInvalidOwner      = errors.New("invalid bucket owner address")
	ErrInvalidObjectKey  = errors.New("invalid object key")
	ErrKeyTooLong        = errors.New("object key too long")
)

const (
	MinAliasLength = 3
	MaxAliasLength = 20
)

// ValidateBucketAlias checks the alias stored in namespace metadata: 3 to 20
// characters of lowercase letters, digits, '.' and '-', starting and ending
// with a letter or digit, without "..".
func ValidateBucketAlias(alias string) error {
	if len(alias) < MinAliasLength || len(alias) > MaxAliasLength {
		return ErrInvalidBucketName
	}
	for i := 0; i < len(alias); i++ {
		c := alias[i]
		if !isAlnum(c) && c != '.' && c != '-' {
			return ErrInvalidBucketName
		}
	}
	if !isAlnum(alias[0]) || !isAlnum(alias[len(alias)-1]) {
		return ErrInvalidBucketName
	}
	if strings.Contains(alias, "..") {
		return ErrInvalidBucketName
	}
	return nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// BucketName is a parsed S3 bucket name. Owner is empty when the name did not
// carry an explicit owner prefix.
type BucketName struct {
	Owner string
	Alias string
}

// HasOwner reports whether the name was written as "0xOWNER.alias".
func (b BucketName) HasOwner() bool {
	return b.Owner != ""
}

func (b BucketName) String() string {
	if b.Owner == "" {
		return b.Alias
	}
	return b.Owner + "." + b.Alias
}

// ParseBucketName splits "0xOWNER.alias" into owner and alias. A name without
// a 0x prefix is a bare alias owned by the gateway wallet. The owner is
// returned in checksummed form.
func ParseBucketName(name string) (BucketName, error) {
	if strings.HasPrefix(name, "0x") || strings.HasPrefix(name, "0X") {
		owner, alias, ok := strings.Cut(name, ".")
		if !ok {
			return BucketName{}, ErrInvalidBucketName
		}
		if !common.IsHexAddress(owner) {
			return BucketName{}, ErrInvalidOwner
		}
		if err := ValidateBucketAlias(alias); err != nil {
			return BucketName{}, err
		}
		return BucketName{Owner: common.HexToAddress(owner).Hex(), Alias: alias}, nil
	}
	if err := ValidateBucketAlias(name); err != nil {
		return BucketName{}, err
	}
	return BucketName{Alias: name}, nil
}

// ValidateObjectKey checks that key is non-empty UTF-8 within the S3 length limit.
func ValidateObjectKey(key string) error {
	if key == "" || !utf8.ValidString(key) {
		return ErrInvalidObjectKey
	}
	if len(key) > s3consts.MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}
