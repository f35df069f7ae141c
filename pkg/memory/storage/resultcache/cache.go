// Package resultcache caches selective query results (episodes since T,
// episodes by metadata, patterns by type) under compound keys, composed
// on top of the embedded cache backend's reserved query-cache namespace.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/relaymind/epimem/pkg/memory/storage/cache"
)

// PredicateClass identifies the family of filter a cached result belongs
// to (e.g. "episodes", "patterns"), so a write to that entity kind can
// invalidate every cached query touching it without needing to decode
// individual filters.
type PredicateClass string

// Cache wraps a cache.Store to cache and invalidate query results.
type Cache struct {
	store cache.Store
	ttl   time.Duration
}

// New builds a Cache with the given default TTL for cached results.
func New(store cache.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Key derives a compound cache key from a predicate class, a template
// name and the filter value (marshalled to a deterministic JSON
// representation before hashing).
func Key(class PredicateClass, templateName string, filter interface{}) (string, error) {
	payload, err := json.Marshal(filter)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(templateName+"|"), payload...))
	return string(class) + ":" + hex.EncodeToString(sum[:]), nil
}

// Get retrieves a cached result. The caller supplies dest to unmarshal
// into, following the standard encoding/json Unmarshal contract.
func (c *Cache) Get(key string, dest interface{}) (bool, error) {
	raw, ok, err := c.store.Get(cache.NamespaceQueryCache, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	_ = c.store.Touch(cache.NamespaceQueryCache, key, c.ttl/2, c.ttl*4)
	return true, nil
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.store.Set(cache.NamespaceQueryCache, key, raw, c.ttl)
}

// InvalidateClass evicts every cached result belonging to class, used
// when a write touches that predicate class's entity kind.
func (c *Cache) InvalidateClass(class PredicateClass) error {
	return c.store.DeletePrefix(cache.NamespaceQueryCache, string(class)+":")
}
