// Package retrieval implements the hybrid ranker: structured filtering,
// candidate selection from the durable store, weighted scoring across
// semantic similarity, recency, reward and tag/domain match, and an
// optional MMR-like diversity pass.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/model"
	"github.com/relaymind/epimem/pkg/memory/semantic"
	"github.com/relaymind/epimem/pkg/memory/storage/durable"
	"github.com/relaymind/epimem/pkg/memory/storage/resultcache"
	"github.com/relaymind/epimem/pkg/shared/logging"
	sharedmath "github.com/relaymind/epimem/pkg/shared/math"
)

// RecencyHalfLife is the age at which the recency score has decayed to
// half its value of a brand-new episode.
const RecencyHalfLife = 7 * 24 * time.Hour

// Weights configures the score's component contributions. Keys missing
// from the map default to 0.
type Weights map[string]float64

func (w Weights) get(key string) float64 {
	if v, ok := w[key]; ok {
		return v
	}
	return 0
}

// Config tunes the retrieval pipeline.
type Config struct {
	DefaultLimit        int
	CandidateMultiplier int
	Weights             Weights
	DiversityThreshold  float64
	DiversityEnabled    bool
}

// ScoredEpisode is one ranked retrieval result.
type ScoredEpisode struct {
	Episode    *model.Episode
	Score      float64
	Semantic   float64
	Recency    float64
	Reward     float64
	TagMatch   float64
	DomainMatch float64
}

// Result is the outcome of a retrieve_context call.
type Result struct {
	Episodes []ScoredEpisode
	// SemanticUsed is false when the embedding provider was unavailable
	// and the engine fell back to structured-filter-only ranking.
	SemanticUsed bool
}

// Query is the retrieval request surface.
type Query struct {
	Text   string
	Filter model.EpisodeFilter
	Limit  int
}

// Engine runs the retrieval pipeline against a durable store, an
// optional query-result cache, and a semantic embedding provider.
type Engine struct {
	store    durable.Store
	embedder semantic.Provider
	results  *resultcache.Cache
	cfg      Config
	log      *logrus.Logger
}

// NewEngine builds an Engine. embedder and results may be nil: a nil
// embedder always falls back to recency×reward ranking; a nil results
// cache disables query-result caching.
func NewEngine(store durable.Store, embedder semantic.Provider, results *resultcache.Cache, cfg Config, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &Engine{store: store, embedder: embedder, results: results, cfg: cfg, log: log}
}

// Retrieve runs the full pipeline for q, returning up to q.Limit ranked
// episodes (cfg.DefaultLimit when unset). A limit outside [1, 100] is
// rejected with a validation error.
func (e *Engine) Retrieve(ctx context.Context, q Query) (Result, error) {
	limit := q.Limit
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit < 1 || limit > 100 {
		return Result{}, apperrors.NewValidationError("limit must be in [1, 100]")
	}

	queryVec, semanticErr := e.tryEmbed(ctx, q.Text)
	semanticUsed := semanticErr == nil && queryVec != nil
	if _, isMock := e.embedder.(*semantic.Mock); isMock {
		// Mock vectors are lexical only: rank and flag the result exactly
		// as if the provider were unavailable.
		semanticUsed = false
	}

	if cacheKey, ok := e.cacheKey(q, limit, queryVec); ok {
		var cached Result
		if hit, err := e.results.Get(cacheKey, &cached); err == nil && hit {
			return cached, nil
		}
	}

	multiplier := e.cfg.CandidateMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	candidateFilter := q.Filter
	candidateFilter.Limit = limit * multiplier

	candidates, err := e.store.ListEpisodes(ctx, candidateFilter)
	if err != nil {
		return Result{}, err
	}

	scored := make([]ScoredEpisode, 0, len(candidates))
	for _, ep := range candidates {
		scored = append(scored, e.score(ctx, ep, q, queryVec, semanticUsed))
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	selected := e.selectWithDiversity(scored, limit, semanticUsed)

	result := Result{Episodes: selected, SemanticUsed: semanticUsed}

	if cacheKey, ok := e.cacheKey(q, limit, queryVec); ok {
		if err := e.results.Set(cacheKey, result); err != nil {
			e.log.WithFields(logrus.Fields(logging.NewFields().Component("retrieval").Operation("cache_set").Error(err))).Warn("failed to cache retrieval result")
		}
	}

	return result, nil
}

func (e *Engine) tryEmbed(ctx context.Context, text string) ([]float64, error) {
	if e.embedder == nil || strings.TrimSpace(text) == "" {
		return nil, apperrors.NewEmbeddingUnavailableError("no embedding provider configured")
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.log.WithFields(logrus.Fields(logging.NewFields().Component("retrieval").Operation("embed_query").Error(err))).
			Warn("embedding provider unavailable, falling back to recency x reward ranking")
		return nil, err
	}
	return vec, nil
}

func (e *Engine) score(ctx context.Context, ep *model.Episode, q Query, queryVec []float64, semanticUsed bool) ScoredEpisode {
	recency := recencyScore(ep.StartTime)
	reward := rewardScore(ep)
	tagMatch := tagMatchScore(ep, q.Filter)
	domainMatch := domainMatchScore(ep, q.Filter)

	se := ScoredEpisode{Episode: ep, Recency: recency, Reward: reward, TagMatch: tagMatch, DomainMatch: domainMatch}

	if !semanticUsed {
		se.Score = recency * reward
		return se
	}

	var semanticScore float64
	if emb, err := e.store.GetEmbedding(ctx, model.EntityEpisode, ep.EpisodeID); err == nil && emb != nil {
		semanticScore = sharedmath.CosineSimilarity(queryVec, emb.Vector)
	}
	se.Semantic = semanticScore

	w := e.cfg.Weights
	se.Score = w.get("semantic")*semanticScore + w.get("recency")*recency +
		w.get("reward")*reward + w.get("tag")*tagMatch + w.get("domain")*domainMatch
	return se
}

// selectWithDiversity truncates scored (already sorted descending) to
// limit, optionally skipping candidates too similar (by embedding, when
// semantic ranking is in effect) to an already-selected result.
func (e *Engine) selectWithDiversity(scored []ScoredEpisode, limit int, semanticUsed bool) []ScoredEpisode {
	if !e.cfg.DiversityEnabled || !semanticUsed {
		if len(scored) > limit {
			return scored[:limit]
		}
		return scored
	}

	selected := make([]ScoredEpisode, 0, limit)
	selectedVecs := make([][]float64, 0, limit)
	for _, cand := range scored {
		if len(selected) >= limit {
			break
		}
		emb, err := e.store.GetEmbedding(context.Background(), model.EntityEpisode, cand.Episode.EpisodeID)
		if err != nil || emb == nil {
			selected = append(selected, cand)
			continue
		}
		tooSimilar := false
		for _, v := range selectedVecs {
			if sharedmath.CosineSimilarity(emb.Vector, v) >= e.cfg.DiversityThreshold {
				tooSimilar = true
				break
			}
		}
		if tooSimilar {
			continue
		}
		selected = append(selected, cand)
		selectedVecs = append(selectedVecs, emb.Vector)
	}
	return selected
}

func recencyScore(start time.Time) float64 {
	age := time.Since(start)
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(RecencyHalfLife))
}

func rewardScore(ep *model.Episode) float64 {
	if ep.RewardScore == nil {
		return 0
	}
	v := *ep.RewardScore
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tagMatchScore(ep *model.Episode, filter model.EpisodeFilter) float64 {
	wanted := append(append([]string{}, filter.TagsAny...), filter.TagsAll...)
	if len(wanted) == 0 {
		return 0
	}
	matches := 0
	for _, w := range wanted {
		if ep.HasTag(strings.ToLower(strings.TrimSpace(w))) {
			matches++
		}
	}
	return float64(matches) / float64(len(wanted))
}

func domainMatchScore(ep *model.Episode, filter model.EpisodeFilter) float64 {
	if len(filter.Domains) == 0 {
		return 0
	}
	for _, d := range filter.Domains {
		if strings.EqualFold(d, ep.Context.Domain) {
			return 1
		}
	}
	return 0
}

// cacheKey derives the query-result cache key. Semantic queries bucket
// the query embedding coarsely (each component rounded to one decimal)
// so near-duplicate queries share a cache entry; non-semantic queries
// key on structured filters alone.
func (e *Engine) cacheKey(q Query, limit int, queryVec []float64) (string, bool) {
	if e.results == nil {
		return "", false
	}
	payload := struct {
		Filter model.EpisodeFilter
		Limit  int
		Bucket []float64
	}{Filter: q.Filter, Limit: limit, Bucket: embeddingBucket(queryVec)}

	key, err := resultcache.Key("episodes", "retrieve_context", payload)
	if err != nil {
		return "", false
	}
	return key, true
}

func embeddingBucket(vec []float64) []float64 {
	if vec == nil {
		return nil
	}
	bucket := make([]float64, len(vec))
	for i, v := range vec {
		bucket[i] = math.Round(v*10) / 10
	}
	return bucket
}
