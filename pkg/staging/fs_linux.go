// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package staging

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for a staged file so a full disk fails the
// request up front. Unsupported filesystems are ignored.
func preallocate(f *os.File, size int64) error {
	if size <= 0 {
		return nil
	}
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if err == unix.ENOSPC {
		return err
	}
	return nil
}

// dropCache tells the kernel the staged bytes will be read once more at
// most.
func dropCache(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
