// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinHostPort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "127.0.0.1:8014", JoinHostPort("127.0.0.1", 8014))
	assert.Equal(t, "[::1]:8014", JoinHostPort("::1", 8014))
	assert.Equal(t, "[::1]:8014", JoinHostPort("[::1]", 8014))
}

func TestConnDeadlineScales(t *testing.T) {
	t.Parallel()

	c := &Conn{IdleTimeout: time.Second}
	first := c.deadline(0)
	later := c.deadline(10 * minBytesPerSecond)
	assert.Greater(t, later.Sub(first), 9*time.Second)
}

func TestListener(t *testing.T) {
	t.Parallel()

	l, err := NewListener("127.0.0.1:0", time.Second)
	require.NoError(t, err)
	defer l.Close()

	done := make(chan []byte, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			done <- nil
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		done <- b
	}()

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Equal(t, "ping", string(<-done))
}
