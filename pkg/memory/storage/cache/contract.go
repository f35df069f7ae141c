// Package cache defines the embedded key-value cache contract — snapshot
// reads, transactional writes, per-namespace byte ceilings and a
// schema-version byte guarding every stored value — plus a bbolt
// implementation.
package cache

import (
	"time"
)

// Namespace groups cache entries by entity kind, per the persisted state
// layout: one bucket per namespace.
type Namespace string

const (
	NamespaceEpisodes  Namespace = "episodes"
	NamespacePatterns  Namespace = "patterns"
	NamespaceHeuristics Namespace = "heuristics"
	NamespaceEmbeddings Namespace = "embeddings"
	NamespaceMetadata  Namespace = "metadata"
	// NamespaceQueryCache is the reserved namespace the query-result cache
	// builds on top of.
	NamespaceQueryCache Namespace = "__qcache"
)

// SchemaVersion is the one-byte tag prefixed to every stored value. A
// mismatch on read is treated as a miss and the entry is evicted.
const SchemaVersion byte = 1

// MaxValueSize ceilings per namespace, in bytes.
var MaxValueSize = map[Namespace]int{
	NamespaceEpisodes:   10 * 1024 * 1024,
	NamespacePatterns:   1 * 1024 * 1024,
	NamespaceHeuristics: 100 * 1024,
	NamespaceEmbeddings: 1 * 1024 * 1024,
}

// Store is the embedded cache backend contract. Reads are snapshot
// consistent; writes are transactional. Implementations permit
// concurrent readers and a single writer per key.
type Store interface {
	// Get performs a snapshot read. ok is false on miss, expiry, or
	// schema-version mismatch (which also evicts the entry).
	Get(ns Namespace, key string) (value []byte, ok bool, err error)

	// Set writes value under key with the given TTL in a single
	// transaction, prefixed with the current SchemaVersion byte.
	Set(ns Namespace, key string, value []byte, ttl time.Duration) error

	// Touch extends an entry's TTL on access, up to the configured cap.
	// It is a no-op if the key is absent.
	Touch(ns Namespace, key string, extension, cap time.Duration) error

	// Delete evicts a single key. Deleting an absent key is not an error.
	Delete(ns Namespace, key string) error

	// DeletePrefix evicts every key in ns with the given prefix, used to
	// invalidate a predicate class in the query-result cache.
	DeletePrefix(ns Namespace, prefix string) error

	// Stats reports cache hit/miss/eviction counters, atomic across
	// concurrent callers.
	Stats() Stats

	Close() error
}

// Stats holds the cache's atomic counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Writes    uint64
	WriteFailures uint64
}
