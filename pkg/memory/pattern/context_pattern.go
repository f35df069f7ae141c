package pattern

import "github.com/relaymind/epimem/pkg/memory/model"

// ContextExtractor mines the episode's declared domain/language/task-type
// as a reusable context signature, useful for "episodes like this one
// tend to succeed/fail" retrieval weighting.
type ContextExtractor struct{}

func (e *ContextExtractor) Kind() model.PatternKind { return model.PatternContext }
func (e *ContextExtractor) Priority() uint8          { return 40 }

func (e *ContextExtractor) Accepts(ep *model.Episode) bool {
	return ep.Context.Domain != "" || ep.Context.Language != ""
}

func (e *ContextExtractor) Extract(ep *model.Episode) []*model.Pattern {
	return []*model.Pattern{{
		Kind:        model.PatternContext,
		Domain:      ep.Context.Domain,
		Language:    ep.Context.Language,
		TaskType:    ep.TaskType,
		Support:     1,
		SuccessRate: successRateFor(ep),
	}}
}
