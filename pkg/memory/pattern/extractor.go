package pattern

import "github.com/relaymind/epimem/pkg/memory/model"

// Extractor is the common contract every pattern-mining strategy
// implements. Extractors run in priority order; all applicable
// extractors run on a given episode and their outputs are unioned, then
// deduplicated by the clusterer.
type Extractor interface {
	// Accepts reports whether this extractor can produce patterns from e.
	Accepts(e *model.Episode) bool
	// Priority orders extractor execution; lower runs first.
	Priority() uint8
	// Extract mines zero or more patterns from e.
	Extract(e *model.Episode) []*model.Pattern
	// Kind identifies which PatternKind this extractor produces.
	Kind() model.PatternKind
}

// Registry holds the configured set of extractors and runs them in
// priority order against an episode.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a Registry from the given extractors, sorted by
// priority.
func NewRegistry(extractors ...Extractor) *Registry {
	sorted := append([]Extractor(nil), extractors...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Priority() > sorted[j].Priority(); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return &Registry{extractors: sorted}
}

// DefaultRegistry wires the five named strategies in the order the
// pipeline runs them: tool sequences and decision points first (cheapest,
// most common), then error recovery, context, and finally the custom
// heuristic catch-all.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&ToolSequenceExtractor{},
		&DecisionPointExtractor{},
		&ErrorRecoveryExtractor{},
		&ContextExtractor{},
		&HeuristicExtractor{},
	)
}

// Run executes every applicable extractor against e and unions their
// output. The clusterer is responsible for deduplication afterward.
func (r *Registry) Run(e *model.Episode) []*model.Pattern {
	var out []*model.Pattern
	for _, ex := range r.extractors {
		if !ex.Accepts(e) {
			continue
		}
		out = append(out, ex.Extract(e)...)
	}
	return out
}
