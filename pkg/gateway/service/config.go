// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/index"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"
)

// Config holds the dependencies of the gateway service layer.
type Config struct {
	// Adapter is the only component that talks to the network.
	Adapter *backend.Adapter

	// Index caches bucket and object metadata in front of the adapter.
	Index *index.Index

	// Stager buffers request bodies on local disk.
	Stager *staging.Stager

	// Region answers GetBucketLocation.
	Region string

	// MaxUploads caps concurrent multipart sessions.
	MaxUploads int

	// UploadRetention is how long finished multipart sessions are
	// remembered so a repeated abort stays idempotent.
	UploadRetention time.Duration
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Adapter == nil {
		return errors.New("service: Adapter is required")
	}
	if c.Index == nil {
		return errors.New("service: Index is required")
	}
	if c.Stager == nil {
		return errors.New("service: Stager is required")
	}
	return nil
}
