package cache

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/relaymind/epimem/internal/errors"
)

// envelopeHeaderSize is 1 schema-version byte + 8 bytes of expiry (unix
// nanoseconds, big-endian).
const envelopeHeaderSize = 9

// Bolt is the Store implementation backed by go.etcd.io/bbolt: an
// embedded, single-file key-value store whose View/Update transactions
// map directly onto the contract's snapshot-read / transactional-write
// semantics.
type Bolt struct {
	db    *bolt.DB
	stats boltStats
}

type boltStats struct {
	hits, misses, evictions, writes, writeFailures atomic.Uint64
}

// OpenBolt opens (creating if absent) a bbolt database at path and ensures
// every namespace bucket exists.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "open cache store")
	}
	b := &Bolt{db: db}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range []Namespace{NamespaceEpisodes, NamespacePatterns, NamespaceHeuristics,
			NamespaceEmbeddings, NamespaceMetadata, NamespaceQueryCache} {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "initialise cache buckets")
	}
	return b, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func encodeEnvelope(value []byte, ttl time.Duration) []byte {
	out := make([]byte, envelopeHeaderSize+len(value))
	out[0] = SchemaVersion
	expiry := time.Now().Add(ttl).UnixNano()
	binary.BigEndian.PutUint64(out[1:9], uint64(expiry))
	copy(out[envelopeHeaderSize:], value)
	return out
}

func decodeEnvelope(raw []byte) (value []byte, expiry time.Time, versionOK bool) {
	if len(raw) < envelopeHeaderSize {
		return nil, time.Time{}, false
	}
	if raw[0] != SchemaVersion {
		return nil, time.Time{}, false
	}
	nanos := binary.BigEndian.Uint64(raw[1:9])
	return raw[envelopeHeaderSize:], time.Unix(0, int64(nanos)), true
}

func (b *Bolt) Get(ns Namespace, key string) ([]byte, bool, error) {
	var (
		value     []byte
		evictKey  bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, expiry, ok := decodeEnvelope(raw)
		if !ok {
			evictKey = true
			return nil
		}
		if time.Now().After(expiry) {
			evictKey = true
			return nil
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "cache get")
	}

	if evictKey {
		_ = b.Delete(ns, key)
		b.stats.evictions.Add(1)
		b.stats.misses.Add(1)
		return nil, false, nil
	}
	if value == nil {
		b.stats.misses.Add(1)
		return nil, false, nil
	}
	b.stats.hits.Add(1)
	return value, true, nil
}

func (b *Bolt) Set(ns Namespace, key string, value []byte, ttl time.Duration) error {
	if limit, ok := MaxValueSize[ns]; ok && len(value) > limit {
		b.stats.writeFailures.Add(1)
		return apperrors.Newf(apperrors.ErrorTypeValidation, "value for namespace %s exceeds %d byte ceiling", ns, limit)
	}
	envelope := encodeEnvelope(value, ttl)
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), envelope)
	})
	if err != nil {
		b.stats.writeFailures.Add(1)
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "cache set")
	}
	b.stats.writes.Add(1)
	return nil
}

func (b *Bolt) Touch(ns Namespace, key string, extension, cap time.Duration) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		value, expiry, ok := decodeEnvelope(raw)
		if !ok {
			return nil
		}
		newExpiry := expiry.Add(extension)
		if ceiling := time.Now().Add(cap); newExpiry.After(ceiling) {
			newExpiry = ceiling
		}
		out := make([]byte, envelopeHeaderSize+len(value))
		out[0] = SchemaVersion
		binary.BigEndian.PutUint64(out[1:9], uint64(newExpiry.UnixNano()))
		copy(out[envelopeHeaderSize:], value)
		return bucket.Put([]byte(key), out)
	})
}

func (b *Bolt) Delete(ns Namespace, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "cache delete")
	}
	return nil
}

func (b *Bolt) DeletePrefix(ns Namespace, prefix string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		prefixBytes := []byte(prefix)
		var toDelete [][]byte
		for k, _ := c.Seek(prefixBytes); k != nil && hasPrefix(k, prefixBytes); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		b.stats.evictions.Add(uint64(len(toDelete)))
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "cache delete prefix")
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (b *Bolt) Stats() Stats {
	return Stats{
		Hits:          b.stats.hits.Load(),
		Misses:        b.stats.misses.Load(),
		Evictions:     b.stats.evictions.Load(),
		Writes:        b.stats.writes.Load(),
		WriteFailures: b.stats.writeFailures.Load(),
	}
}
