// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/gateway/data"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"

	"golang.org/x/time/rate"
)

// Limiter decides whether the client identified by key may make another
// request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimitFilter limits requests per client IP. Rejected requests get
// SlowDown.
type RateLimitFilter struct {
	limiter Limiter
}

func NewRateLimitFilter(limiter Limiter) *RateLimitFilter {
	return &RateLimitFilter{limiter: limiter}
}

func (f *RateLimitFilter) Type() string {
	return "rate_limit"
}

func (f *RateLimitFilter) Run(d *data.Data) (Response, error) {
	if d.Ctx.Err() != nil {
		return nil, d.Ctx.Err()
	}

	allowed, err := f.limiter.Allow(d.Ctx, "ip:"+getClientIP(d.Req))
	if err != nil {
		return nil, s3err.ErrServiceUnavailable
	}
	if !allowed {
		metricRateLimited.WithLabelValues(d.S3Info.Action.OperationType().String()).Inc()
		return End{}, s3err.ErrSlowDown
	}
	return Next{}, nil
}

// LocalLimiter keeps one token bucket per key in process.
type LocalLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*localBucket

	stop chan struct{}
	once sync.Once
}

type localBucket struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix seconds
}

// NewLocalLimiter creates a limiter allowing rps requests per second per key
// with the given burst. Keys idle for longer than idle are dropped; idle 0
// keeps them forever.
func NewLocalLimiter(rps float64, burst int, idle time.Duration) *LocalLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &LocalLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*localBucket),
		stop:    make(chan struct{}),
	}
	if idle > 0 {
		go l.cleanupLoop(idle)
	}
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.lastUsed.Store(time.Now().Unix())
	return b.limiter.Allow(), nil
}

func (l *LocalLimiter) cleanupLoop(idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idle).Unix()
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.lastUsed.Load() < cutoff {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (l *LocalLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// getClientIP extracts the client IP from the request, preferring proxy
// headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
