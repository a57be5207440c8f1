// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/network"

	"github.com/google/btree"
)

type memObject struct {
	key     string // namespace/key
	info    backend.ObjectInfo
	expires time.Time
}

type memBucket struct {
	info    backend.BucketInfo
	expires time.Time
}

// MemoryStore keeps entries in process. Objects are ordered so a bucket's
// entries can be dropped as one range.
type MemoryStore struct {
	ttl        time.Duration
	maxObjects int
	now        func() time.Time

	mu      sync.RWMutex
	buckets map[string]memBucket
	objects *btree.BTreeG[*memObject]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store. ttl 0 keeps entries until they are
// replaced; maxObjects 0 is unbounded.
func NewMemoryStore(ttl time.Duration, maxObjects int) *MemoryStore {
	return &MemoryStore{
		ttl:        ttl,
		maxObjects: maxObjects,
		now:        time.Now,
		buckets:    make(map[string]memBucket),
		objects: btree.NewG[*memObject](32, func(a, b *memObject) bool {
			return a.key < b.key
		}),
	}
}

func (m *MemoryStore) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *MemoryStore) expired(t time.Time) bool {
	return !t.IsZero() && m.now().After(t)
}

func (m *MemoryStore) Bucket(_ context.Context, key string) (backend.BucketInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.buckets[key]
	if !ok || m.expired(e.expires) {
		return backend.BucketInfo{}, false, nil
	}
	return e.info, true, nil
}

func (m *MemoryStore) SetBucket(_ context.Context, key string, b backend.BucketInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[key] = memBucket{info: b, expires: m.expiry()}
	return nil
}

func (m *MemoryStore) DeleteBucket(_ context.Context, key string, ns network.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
	if ns == (network.Address{}) {
		return nil
	}

	prefix := ns.Hex() + "/"
	var doomed []*memObject
	m.objects.AscendGreaterOrEqual(&memObject{key: prefix}, func(o *memObject) bool {
		if !strings.HasPrefix(o.key, prefix) {
			return false
		}
		doomed = append(doomed, o)
		return true
	})
	for _, o := range doomed {
		m.objects.Delete(o)
	}
	return nil
}

func (m *MemoryStore) Object(_ context.Context, ns network.Address, key string) (backend.ObjectInfo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects.Get(&memObject{key: objectKey(ns, key)})
	if !ok || m.expired(o.expires) {
		return backend.ObjectInfo{}, false, nil
	}
	return o.info, true, nil
}

func (m *MemoryStore) SetObject(_ context.Context, ns network.Address, info backend.ObjectInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.objects.Get(&memObject{key: objectKey(ns, info.Key)}); ok &&
		!m.expired(cur.expires) && cur.info.Height > info.Height {
		return nil
	}
	m.objects.ReplaceOrInsert(&memObject{
		key:     objectKey(ns, info.Key),
		info:    info,
		expires: m.expiry(),
	})
	for m.maxObjects > 0 && m.objects.Len() > m.maxObjects {
		m.evictLocked()
	}
	return nil
}

// evictLocked drops an expired entry if there is one, else the entry that
// expires first.
func (m *MemoryStore) evictLocked() {
	if m.ttl <= 0 {
		m.objects.DeleteMin()
		return
	}
	var victim *memObject
	m.objects.Ascend(func(o *memObject) bool {
		if victim == nil || o.expires.Before(victim.expires) {
			victim = o
		}
		return !m.expired(o.expires)
	})
	if victim != nil {
		m.objects.Delete(victim)
	}
}

func (m *MemoryStore) DeleteObject(_ context.Context, ns network.Address, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects.Delete(&memObject{key: objectKey(ns, key)})
	return nil
}

// Len returns the number of object entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects.Len()
}

func (m *MemoryStore) Close() error {
	return nil
}
