// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"errors"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3action"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/utils"
)

// ValidationFilter rejects malformed bucket names and keys before any
// backend work. Bucket existence is checked by the services.
type ValidationFilter struct{}

func NewValidationFilter() *ValidationFilter {
	return &ValidationFilter{}
}

func (f *ValidationFilter) Type() string {
	return "validation"
}

func (f *ValidationFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	if d.S3Info.Action == s3action.ListBuckets || !d.S3Info.Action.Supported() {
		return Next{}, nil
	}

	if _, err := utils.ParseBucketName(d.S3Info.Bucket); err != nil {
		return End{}, s3err.ErrInvalidBucketName
	}

	if d.S3Info.Key != "" {
		if err := utils.ValidateObjectKey(d.S3Info.Key); err != nil {
			if errors.Is(err, utils.ErrKeyTooLong) {
				return End{}, s3err.ErrKeyTooLong
			}
			return End{}, s3err.ErrInvalidArgument
		}
	}

	return Next{}, nil
}

// ReadOnlyFilter answers every write and ListBuckets with NotImplemented
// when the gateway has no signer.
type ReadOnlyFilter struct {
	readOnly bool
}

func NewReadOnlyFilter(readOnly bool) *ReadOnlyFilter {
	return &ReadOnlyFilter{readOnly: readOnly}
}

func (f *ReadOnlyFilter) Type() string {
	return "read_only"
}

func (f *ReadOnlyFilter) Run(d *data.Data) (Response, error) {
	if !f.readOnly {
		return Next{}, nil
	}
	if d.S3Info.Action.IsWrite() || d.S3Info.Action == s3action.ListBuckets {
		return End{}, s3err.ErrNotImplemented
	}
	return Next{}, nil
}
