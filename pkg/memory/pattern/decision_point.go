package pattern

import "github.com/relaymind/epimem/pkg/memory/model"

// DecisionPointExtractor mines branch-like points: a step followed by
// another whose outcome diverges (success vs failure), treating the first
// step's action as the "condition" and the second's as the taken branch.
type DecisionPointExtractor struct{}

func (e *DecisionPointExtractor) Kind() model.PatternKind { return model.PatternDecisionPoint }
func (e *DecisionPointExtractor) Priority() uint8          { return 20 }

func (e *DecisionPointExtractor) Accepts(ep *model.Episode) bool {
	return len(ep.Steps) >= 2
}

func (e *DecisionPointExtractor) Extract(ep *model.Episode) []*model.Pattern {
	var out []*model.Pattern
	for i := 0; i+1 < len(ep.Steps); i++ {
		cur, next := ep.Steps[i], ep.Steps[i+1]
		if cur.Result.Kind == next.Result.Kind {
			continue // no divergence, not a decision point
		}
		stats := model.OutcomeStats{}
		if next.Result.Kind == model.ResultFailure {
			stats.FailureCount = 1
		} else {
			stats.SuccessCount = 1
		}
		out = append(out, &model.Pattern{
			Kind:         model.PatternDecisionPoint,
			Condition:    cur.Action,
			Action:       next.Action,
			OutcomeStats: stats,
			Support:      1,
			SuccessRate:  successRateFor(ep),
		})
	}
	return out
}
