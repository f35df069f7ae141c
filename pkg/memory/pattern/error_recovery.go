package pattern

import "github.com/relaymind/epimem/pkg/memory/model"

// ErrorRecoveryExtractor mines sequences where a failing step is followed
// by one or more steps that succeed, recording the recovery actions taken.
type ErrorRecoveryExtractor struct{}

func (e *ErrorRecoveryExtractor) Kind() model.PatternKind { return model.PatternErrorRecovery }
func (e *ErrorRecoveryExtractor) Priority() uint8          { return 30 }

func (e *ErrorRecoveryExtractor) Accepts(ep *model.Episode) bool {
	for i, s := range ep.Steps {
		if s.Result.Kind == model.ResultFailure && i+1 < len(ep.Steps) {
			return true
		}
	}
	return false
}

func (e *ErrorRecoveryExtractor) Extract(ep *model.Episode) []*model.Pattern {
	var out []*model.Pattern
	i := 0
	for i < len(ep.Steps) {
		if ep.Steps[i].Result.Kind != model.ResultFailure {
			i++
			continue
		}
		errType := ep.Steps[i].Result.Message
		var recovery []string
		j := i + 1
		for j < len(ep.Steps) && ep.Steps[j].Result.Kind != model.ResultFailure {
			recovery = append(recovery, ep.Steps[j].Action)
			j++
		}
		if len(recovery) > 0 {
			out = append(out, &model.Pattern{
				Kind:          model.PatternErrorRecovery,
				ErrorType:     errType,
				RecoverySteps: recovery,
				Support:       1,
				SuccessRate:   successRateFor(ep),
			})
		}
		i = j
	}
	return out
}
