package pattern

import (
	sharedmath "github.com/relaymind/epimem/pkg/shared/math"

	"github.com/relaymind/epimem/pkg/memory/model"
)

// ClustererConfig sets the similarity threshold above which a candidate
// pattern is merged into an existing one rather than inserted as new.
type ClustererConfig struct {
	DedupThreshold float64
}

// DefaultClustererConfig matches the retrieval engine's own diversity
// threshold register, tuned slightly lower since pattern merging should
// be more aggressive than result diversification.
func DefaultClustererConfig() ClustererConfig {
	return ClustererConfig{DedupThreshold: 0.9}
}

// Clusterer deduplicates newly validated patterns against the existing
// population of the same kind, merging near-duplicates via a Bayesian
// update of success_rate and extending effectiveness counters, inserting
// everything else as new.
type Clusterer struct {
	cfg ClustererConfig
}

// NewClusterer builds a Clusterer from cfg.
func NewClusterer(cfg ClustererConfig) *Clusterer {
	return &Clusterer{cfg: cfg}
}

// Merge folds candidate into existing in place (same PatternKind assumed)
// using a Bayesian update: success_rate becomes the support-weighted
// average of the two rates, support accumulates, and effectiveness
// counters extend.
func (c *Clusterer) Merge(existing *model.Pattern, candidate *model.Pattern) {
	totalSupport := existing.Support + candidate.Support
	if totalSupport == 0 {
		totalSupport = 1
	}
	existing.SuccessRate = (existing.SuccessRate*float64(existing.Support) + candidate.SuccessRate*float64(candidate.Support)) / float64(totalSupport)
	existing.Support = totalSupport
	existing.Effectiveness.UsageCount += candidate.Effectiveness.UsageCount
	existing.Effectiveness.SuccessCount += candidate.Effectiveness.SuccessCount
	existing.Effectiveness.AggregateGain += candidate.Effectiveness.AggregateGain
}

// Reconcile processes one candidate pattern against the existing
// population of the same kind (existingOfKind), returning either the
// existing pattern it was merged into, or candidate unchanged if it
// should be inserted as new. candidate.Embedding and every entry in
// existingOfKind must share the engine's configured embedding dimension;
// callers are responsible for generating embeddings before calling this
// (the clusterer only compares vectors, it does not call the semantic
// provider).
func (c *Clusterer) Reconcile(candidate *model.Pattern, existingOfKind []*model.Pattern) (merged *model.Pattern, isNew bool) {
	var best *model.Pattern
	bestSim := -1.0
	for _, ex := range existingOfKind {
		sim := sharedmath.CosineSimilarity(candidate.Embedding, ex.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = ex
		}
	}

	if best != nil && bestSim >= c.cfg.DedupThreshold {
		c.Merge(best, candidate)
		return best, false
	}
	return candidate, true
}
