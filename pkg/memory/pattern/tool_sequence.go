package pattern

import "github.com/relaymind/epimem/pkg/memory/model"

// ToolSequenceExtractor mines the ordered sequence of tool invocations
// across an episode's steps.
type ToolSequenceExtractor struct{}

func (e *ToolSequenceExtractor) Kind() model.PatternKind { return model.PatternToolSequence }
func (e *ToolSequenceExtractor) Priority() uint8          { return 10 }

func (e *ToolSequenceExtractor) Accepts(ep *model.Episode) bool {
	count := 0
	for _, s := range ep.Steps {
		count += len(s.ToolCalls)
	}
	return count >= 2
}

func (e *ToolSequenceExtractor) Extract(ep *model.Episode) []*model.Pattern {
	var tools []string
	var totalMs float64
	var n int
	for _, s := range ep.Steps {
		for _, tc := range s.ToolCalls {
			tools = append(tools, tc.Name)
		}
		if len(s.ToolCalls) > 0 {
			totalMs += float64(s.Duration.Milliseconds())
			n++
		}
	}
	if len(tools) < 2 {
		return nil
	}
	avg := 0.0
	if n > 0 {
		avg = totalMs / float64(n)
	}
	return []*model.Pattern{{
		Kind:       model.PatternToolSequence,
		Tools:      tools,
		AvgLatency: avg,
		Support:    1,
		SuccessRate: successRateFor(ep),
	}}
}

func successRateFor(ep *model.Episode) float64 {
	if ep.Outcome == nil {
		return 0
	}
	switch ep.Outcome.Kind {
	case model.OutcomeSuccess:
		return 1
	case model.OutcomePartialSuccess:
		return 0.5
	default:
		return 0
	}
}
