// Package reward computes an episode's composite reward score from its
// outcome, efficiency, complexity, quality and learning value.
package reward

import (
	"math"
	"time"

	"github.com/relaymind/epimem/pkg/memory/model"
)

// Config holds the reward formula's tunable coefficients. Exact magnitudes
// are not derived from a reference calibration; these defaults are picked
// for this implementation and set in DefaultConfig.
type Config struct {
	BaseSuccess        float64
	BasePartialSuccess float64
	BaseFailure        float64

	// ExpectedStepCount and ExpectedDuration are the norms efficiency is
	// computed relative to.
	ExpectedStepCount int
	ExpectedDuration  time.Duration

	// MaxComplexityBonus bounds the complexity_bonus component ([0, 0.5]).
	MaxComplexityBonus float64
	// ComplexityScale controls how fast declared complexity saturates the
	// bonus; TaskComplexity is expected in [0, ComplexityScale].
	ComplexityScale float64

	// MaxLearningBonus bounds the learning_bonus component ([0, 0.5]).
	MaxLearningBonus float64
	// LearningScale is the number of new patterns that saturates the bonus.
	LearningScale int
}

// DefaultConfig returns sensible, documented defaults.
func DefaultConfig() Config {
	return Config{
		BaseSuccess:        1.0,
		BasePartialSuccess: 0.5,
		BaseFailure:        0.0,
		ExpectedStepCount:  10,
		ExpectedDuration:   5 * time.Minute,
		MaxComplexityBonus: 0.5,
		ComplexityScale:    10,
		MaxLearningBonus:   0.5,
		LearningScale:      5,
	}
}

// Calculator computes rewards for completed episodes.
type Calculator struct {
	cfg Config
}

// NewCalculator builds a Calculator with the given configuration.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Calculate computes the reward for a completed episode. taskComplexity is
// a caller-declared difficulty score (0 = trivial); newPatternCount is the
// number of patterns newly discovered on this episode. It is always 0 at
// completion time, since pattern extraction runs asynchronously after the
// episode is sealed; ApplyLearningBonus folds the real count in once
// extraction attributes new patterns to the episode.
func (c *Calculator) Calculate(e *model.Episode, taskComplexity float64, newPatternCount int) model.Reward {
	base := c.base(e.Outcome)
	efficiency := c.efficiency(e)
	complexity := c.complexityBonus(taskComplexity)
	quality := c.quality(e)
	learning := c.learningBonus(newPatternCount)

	composite := base * efficiency * (1 + complexity) * quality * (1 + learning)
	if !isFinite(composite) {
		composite = 0
	}

	return model.Reward{
		Base:            base,
		Efficiency:      efficiency,
		ComplexityBonus: complexity,
		Quality:         quality,
		LearningBonus:   learning,
		Composite:       composite,
	}
}

// ApplyLearningBonus recomputes r's composite with an updated learning_bonus
// now that newPatternCount patterns are known to have been newly discovered
// on the episode. The other components (base, efficiency, complexity_bonus,
// quality) are carried over unchanged; only learning_bonus and the
// composite they feed into are replaced.
func (c *Calculator) ApplyLearningBonus(r model.Reward, newPatternCount int) model.Reward {
	r.LearningBonus = c.learningBonus(newPatternCount)
	composite := r.Base * r.Efficiency * (1 + r.ComplexityBonus) * r.Quality * (1 + r.LearningBonus)
	if !isFinite(composite) {
		composite = 0
	}
	r.Composite = composite
	return r
}

func (c *Calculator) base(outcome *model.Outcome) float64 {
	if outcome == nil {
		return c.cfg.BaseFailure
	}
	switch outcome.Kind {
	case model.OutcomeSuccess:
		return c.cfg.BaseSuccess
	case model.OutcomePartialSuccess:
		return c.cfg.BasePartialSuccess
	default:
		return c.cfg.BaseFailure
	}
}

// efficiency decreases as duration and step count exceed the configured
// expected norms, guarded against division by zero (empty steps / zero
// expected norms), with documented guard values instead of division by zero.
func (c *Calculator) efficiency(e *model.Episode) float64 {
	stepRatio := 1.0
	if c.cfg.ExpectedStepCount > 0 {
		if len(e.Steps) == 0 {
			return 0.01 // guard: an episode with zero steps is maximally inefficient, not undefined
		}
		stepRatio = float64(c.cfg.ExpectedStepCount) / float64(len(e.Steps))
	}

	durationRatio := 1.0
	if c.cfg.ExpectedDuration > 0 {
		actual := c.duration(e)
		if actual <= 0 {
			actual = time.Millisecond // guard against divide-by-zero on instantaneous episodes
		}
		durationRatio = float64(c.cfg.ExpectedDuration) / float64(actual)
	}

	eff := clamp((stepRatio+durationRatio)/2, 0.01, 1.0)
	return eff
}

func (c *Calculator) duration(e *model.Episode) time.Duration {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

func (c *Calculator) complexityBonus(taskComplexity float64) float64 {
	if c.cfg.ComplexityScale <= 0 {
		return 0
	}
	ratio := clamp(taskComplexity/c.cfg.ComplexityScale, 0, 1)
	return ratio * c.cfg.MaxComplexityBonus
}

// quality is the fraction of steps whose result is not Failure, guarded to
// (0,1] for episodes with zero steps (treated as full quality: there were
// no failing steps to report).
func (c *Calculator) quality(e *model.Episode) float64 {
	if len(e.Steps) == 0 {
		return 1.0
	}
	nonFailing := 0
	for _, s := range e.Steps {
		if s.Result.Kind != model.ResultFailure {
			nonFailing++
		}
	}
	q := float64(nonFailing) / float64(len(e.Steps))
	if q <= 0 {
		return 0.01 // guard: never let quality reach 0, composite must stay positive-able
	}
	return q
}

func (c *Calculator) learningBonus(newPatternCount int) float64 {
	if c.cfg.LearningScale <= 0 || newPatternCount <= 0 {
		return 0
	}
	ratio := clamp(float64(newPatternCount)/float64(c.cfg.LearningScale), 0, 1)
	return ratio * c.cfg.MaxLearningBonus
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
