package pattern

import "github.com/relaymind/epimem/pkg/memory/model"

// Evidence is the statistics a validator scores a candidate pattern
// against: the episode's own outcome plus cached historical counts for
// patterns of the same kind.
type Evidence struct {
	EpisodeSucceeded    bool
	HistoricalSuccesses int
	HistoricalFailures  int
}

// ValidatorConfig sets the minimum F1 score a pattern must clear to
// survive into clustering.
type ValidatorConfig struct {
	MinF1 float64
}

// DefaultValidatorConfig requires a modest F1, permissive enough that a
// pattern backed by a single successful episode still passes.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{MinF1: 0.5}
}

// Validator scores extracted patterns against the episode's own evidence
// plus historical statistics, discarding patterns below the configured
// F1 threshold.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator builds a Validator from cfg.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Score computes precision, recall and F1 for a candidate pattern given
// its supporting evidence.
func (v *Validator) Score(ev Evidence) (precision, recall, f1 float64) {
	truePositives := ev.HistoricalSuccesses
	if ev.EpisodeSucceeded {
		truePositives++
	}
	falsePositives := ev.HistoricalFailures
	if !ev.EpisodeSucceeded {
		falsePositives++
	}
	total := truePositives + falsePositives
	if total == 0 {
		return 0, 0, 0
	}

	precision = float64(truePositives) / float64(total)
	// recall treats "total observed instances" as the positive set,
	// since there is no independent ground truth beyond observed episodes.
	recall = precision
	if precision+recall == 0 {
		return precision, recall, 0
	}
	f1 = 2 * precision * recall / (precision + recall)
	return precision, recall, f1
}

// Accepts reports whether a candidate pattern clears the configured F1
// threshold.
func (v *Validator) Accepts(ev Evidence) bool {
	_, _, f1 := v.Score(ev)
	return f1 >= v.cfg.MinF1
}

// Filter discards patterns whose evidence fails to clear the threshold.
// evidenceFor supplies historical statistics per candidate pattern.
func (v *Validator) Filter(patterns []*model.Pattern, evidenceFor func(*model.Pattern) Evidence) []*model.Pattern {
	var out []*model.Pattern
	for _, p := range patterns {
		if v.Accepts(evidenceFor(p)) {
			out = append(out, p)
		}
	}
	return out
}
