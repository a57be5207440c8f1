// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// minBytesPerSecond is the slowest transfer rate a connection may sustain
// before its deadline runs out. Large objects get proportionally longer
// deadlines.
const minBytesPerSecond = 4000

// Listener hands out connections whose read and write deadlines move forward
// with every successful transfer.
type Listener struct {
	net.Listener
	IdleTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c, IdleTimeout: l.IdleTimeout}, nil
}

// Conn applies a deadline before each Read and Write. The deadline is the
// idle timeout scaled by the bytes already moved, so a slow but steady
// transfer of a large body is not cut off.
type Conn struct {
	net.Conn
	IdleTimeout time.Duration

	read    int64
	written int64
}

func (c *Conn) deadline(moved int64) time.Time {
	perPeriod := int64(minBytesPerSecond * c.IdleTimeout.Seconds())
	if perPeriod <= 0 {
		perPeriod = 1
	}
	return time.Now().Add(c.IdleTimeout * time.Duration(moved/perPeriod+1))
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.IdleTimeout > 0 {
		if err := c.Conn.SetReadDeadline(c.deadline(c.read)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	c.read += int64(n)
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.IdleTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(c.deadline(c.written)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	c.written += int64(n)
	return n, err
}

// NewListener listens on addr. A zero timeout disables deadlines.
func NewListener(addr string, timeout time.Duration) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: l, IdleTimeout: timeout}, nil
}

func JoinHostPort(host string, port int) string {
	p := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + p
	}
	return net.JoinHostPort(host, p)
}
