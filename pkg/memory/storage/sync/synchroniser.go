// Package sync mediates write-through and read-through access between the
// durable store and the embedded cache, with adaptive TTL and best-effort
// cache writes that never abort a mutation.
package sync

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaymind/epimem/pkg/memory/model"
	"github.com/relaymind/epimem/pkg/memory/storage/cache"
	"github.com/relaymind/epimem/pkg/memory/storage/durable"
	"github.com/relaymind/epimem/pkg/shared/logging"
)

// Config tunes the adaptive-TTL behaviour.
type Config struct {
	BaseTTL time.Duration
	MinTTL  time.Duration
	MaxTTL  time.Duration
}

// Synchroniser is the mediator described by the durability & cache
// synchronisation layer: the durable backend is authoritative, the cache
// is a derived view populated read-through and invalidated write-through.
type Synchroniser struct {
	durable durable.Store
	cache   cache.Store
	cfg     Config
	log     *logrus.Logger

	cacheFailures atomic.Uint64
}

// New builds a Synchroniser. cacheStore may be nil, in which case every
// operation degrades to talking to the durable store directly.
func New(durableStore durable.Store, cacheStore cache.Store, cfg Config, log *logrus.Logger) *Synchroniser {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &Synchroniser{durable: durableStore, cache: cacheStore, cfg: cfg, log: log}
}

// GetEpisode performs a read-through lookup: cache hit returns
// immediately (and extends its TTL); a miss queries the durable store and
// best-effort populates the cache.
func (s *Synchroniser) GetEpisode(ctx context.Context, episodeID string) (*model.Episode, error) {
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(cache.NamespaceEpisodes, episodeID); err == nil && ok {
			var e model.Episode
			if decodeErr := decodeGob(raw, &e); decodeErr == nil {
				_ = s.cache.Touch(cache.NamespaceEpisodes, episodeID, s.cfg.BaseTTL/2, s.cfg.MaxTTL)
				return &e, nil
			}
		}
	}

	e, err := s.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	s.populateCache(cache.NamespaceEpisodes, episodeID, e)
	return e, nil
}

// PutEpisode performs the write-through policy: the durable mutation is
// the caller's responsibility (it already committed by the time this is
// invoked); PutEpisode only updates the derived cache view, and on
// failure evicts the key rather than leaving it stale.
func (s *Synchroniser) PutEpisode(e *model.Episode) {
	s.populateCache(cache.NamespaceEpisodes, e.EpisodeID, e)
}

// InvalidateEpisode evicts an episode's cache entry and any query-cache
// entries overlapping it; call this after any mutation to the episode.
func (s *Synchroniser) InvalidateEpisode(episodeID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(cache.NamespaceEpisodes, episodeID); err != nil {
		s.log.WithFields(logrus.Fields(logging.NewFields().Component("sync").Operation("invalidate_episode").Error(err))).Warn("cache invalidation failed")
	}
	// Query results over episodes are cached under the "episodes"
	// predicate class; any of them may include this episode.
	if err := s.cache.DeletePrefix(cache.NamespaceQueryCache, "episodes:"); err != nil {
		s.log.WithFields(logrus.Fields(logging.NewFields().Component("sync").Operation("invalidate_episode").Error(err))).Warn("query cache invalidation failed")
	}
}

// GetPattern mirrors GetEpisode for the patterns namespace.
func (s *Synchroniser) GetPattern(ctx context.Context, patternID string) (*model.Pattern, error) {
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(cache.NamespacePatterns, patternID); err == nil && ok {
			var p model.Pattern
			if decodeErr := decodeGob(raw, &p); decodeErr == nil {
				_ = s.cache.Touch(cache.NamespacePatterns, patternID, s.cfg.BaseTTL/2, s.cfg.MaxTTL)
				return &p, nil
			}
		}
	}

	p, err := s.durable.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}
	s.populateCache(cache.NamespacePatterns, patternID, p)
	return p, nil
}

// InvalidatePattern evicts a pattern's cache entry.
func (s *Synchroniser) InvalidatePattern(patternID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(cache.NamespacePatterns, patternID); err != nil {
		s.log.WithFields(logrus.Fields(logging.NewFields().Component("sync").Operation("invalidate_pattern").Error(err))).Warn("cache invalidation failed")
	}
}

// CacheFailures reports how many best-effort cache writes have failed
// since the synchroniser was created.
func (s *Synchroniser) CacheFailures() uint64 {
	return s.cacheFailures.Load()
}

func (s *Synchroniser) populateCache(ns cache.Namespace, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	raw, err := encodeGob(value)
	if err != nil {
		s.cacheFailures.Add(1)
		return
	}
	if err := s.cache.Set(ns, key, raw, s.cfg.BaseTTL); err != nil {
		// Cache failure does not abort the mutation; evict so a stale
		// entry is never served instead.
		s.cacheFailures.Add(1)
		_ = s.cache.Delete(ns, key)
	}
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(raw []byte, dest interface{}) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(dest)
}
