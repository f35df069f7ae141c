package pattern

import "github.com/relaymind/epimem/pkg/memory/model"

// HeuristicExtractor is the custom catch-all strategy: episodes that
// completed successfully in a single step with no tool calls don't fit
// any of the other four shapes but are still worth recording as a
// minimal, reusable heuristic (e.g. "simple one-step tasks of this kind
// succeed directly").
type HeuristicExtractor struct{}

func (e *HeuristicExtractor) Kind() model.PatternKind { return model.PatternCustom }
func (e *HeuristicExtractor) Priority() uint8          { return 50 }

func (e *HeuristicExtractor) Accepts(ep *model.Episode) bool {
	if ep.Outcome == nil || ep.Outcome.Kind != model.OutcomeSuccess {
		return false
	}
	if len(ep.Steps) != 1 {
		return false
	}
	return len(ep.Steps[0].ToolCalls) == 0
}

func (e *HeuristicExtractor) Extract(ep *model.Episode) []*model.Pattern {
	return []*model.Pattern{{
		Kind: model.PatternCustom,
		Payload: map[string]interface{}{
			"task_type": string(ep.TaskType),
			"action":    ep.Steps[0].Action,
		},
		Support:     1,
		SuccessRate: 1,
	}}
}
