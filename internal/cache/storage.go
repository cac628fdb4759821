// Package cache implements the gateway's tiered response caching: named
// generation buckets with entry-count and age limits, the per-resource-class
// strategies, and the router that picks a strategy for each intercepted
// fetch.
package cache

import (
	"net/http"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Entry is one cached response.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Bucket is one named cache generation. Entries expire after the bucket's
// max age; when the bucket exceeds its entry limit the oldest entries are
// evicted first.
type Bucket struct {
	name       string
	maxEntries int
	entries    *gocache.Cache

	mu sync.Mutex // serializes Put's size check against eviction
}

const bucketCleanupInterval = time.Minute

func newBucket(name string, maxEntries int, maxAge time.Duration) *Bucket {
	return &Bucket{
		name:       name,
		maxEntries: maxEntries,
		entries:    gocache.New(maxAge, bucketCleanupInterval),
	}
}

// Name returns the bucket's full name, including the app prefix.
func (b *Bucket) Name() string { return b.name }

// Get returns the entry under key, or nil when absent or expired.
func (b *Bucket) Get(key string) *Entry {
	v, ok := b.entries.Get(key)
	if !ok {
		return nil
	}
	e, ok := v.(*Entry)
	if !ok {
		return nil
	}
	return e
}

// Put stores an entry under key, evicting oldest entries when the bucket
// would exceed its entry limit.
func (b *Bucket) Put(key string, e *Entry) {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.SetDefault(key, e)
	if b.maxEntries <= 0 {
		return
	}
	if b.entries.ItemCount() > b.maxEntries {
		// ItemCount includes expired entries the janitor has not swept
		// yet, while Items (and so evictOldest) skips them. Sweep first
		// so the count matches what is evictable.
		b.entries.DeleteExpired()
	}
	for b.entries.ItemCount() > b.maxEntries {
		if !b.evictOldest() {
			return
		}
	}
}

// evictOldest removes the oldest unexpired entry, reporting whether
// anything was removed.
func (b *Bucket) evictOldest() bool {
	var oldestKey string
	var oldestAt time.Time
	for k, item := range b.entries.Items() {
		e, ok := item.Object.(*Entry)
		if !ok {
			b.entries.Delete(k)
			return true
		}
		if oldestKey == "" || e.StoredAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.StoredAt
		}
	}
	if oldestKey == "" {
		return false
	}
	b.entries.Delete(oldestKey)
	return true
}

// Len returns the current entry count.
func (b *Bucket) Len() int { return b.entries.ItemCount() }

// Keys returns the keys currently stored, sorted for determinism.
func (b *Bucket) Keys() []string {
	items := b.entries.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush removes every entry.
func (b *Bucket) Flush() { b.entries.Flush() }

// Storage holds all named buckets. It is the Go analogue of the browser's
// CacheStorage: buckets are created on first open and enumerable for
// generation cleanup.
type Storage struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// NewStorage creates an empty Storage.
func NewStorage() *Storage {
	return &Storage{buckets: make(map[string]*Bucket)}
}

// Open returns the bucket with the given name, creating it with the given
// limits if it does not exist. Limits are fixed at creation.
func (s *Storage) Open(name string, maxEntries int, maxAge time.Duration) *Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[name]; ok {
		return b
	}
	b := newBucket(name, maxEntries, maxAge)
	s.buckets[name] = b
	return b
}

// Names enumerates every bucket name, sorted.
func (s *Storage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes the named bucket and all its entries. Reports whether a
// bucket was removed.
func (s *Storage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return false
	}
	b.Flush()
	delete(s.buckets, name)
	return true
}

// FlushAll clears every bucket without deleting them. Used by the
// CLEAR_ALL_CACHES maintenance message.
func (s *Storage) FlushAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.buckets {
		b.Flush()
	}
}
