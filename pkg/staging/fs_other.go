// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package staging

import "os"

func preallocate(f *os.File, size int64) error {
	return nil
}

func dropCache(f *os.File) {}
