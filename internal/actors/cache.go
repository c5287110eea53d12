// Package actors resolves who produced an interaction (customer, internal
// staff, unknown) for the scorer and the classification oracle.
package actors

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

// Cache is a bounded key/value cache owned by whoever constructs it.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Evict(key K)
	Len() int
}

// LRU is a size-bounded, least-recently-used Cache safe for concurrent use.
type LRU[K comparable, V any] struct {
	c *lru.Cache[K, V]
}

// NewLRU returns an LRU holding at most size entries.
func NewLRU[K comparable, V any](size int) (*LRU[K, V], error) {
	c, err := lru.New[K, V](size)
	if err != nil {
		return nil, eris.Wrapf(err, "actors: new lru cache of size %d", size)
	}
	return &LRU[K, V]{c: c}, nil
}

// Get returns the cached value and marks it recently used.
func (l *LRU[K, V]) Get(key K) (V, bool) {
	return l.c.Get(key)
}

// Set stores value, evicting the least recently used entry when full.
func (l *LRU[K, V]) Set(key K, value V) {
	l.c.Add(key, value)
}

// Evict drops key if present.
func (l *LRU[K, V]) Evict(key K) {
	l.c.Remove(key)
}

// Len returns the number of cached entries.
func (l *LRU[K, V]) Len() int {
	return l.c.Len()
}
