package orchestrator

import (
	"sync"

	"github.com/relaymind/epimem/pkg/memory/model"
)

// stepBuffer holds each in-progress episode's last-seen step number in
// memory so log_step can reject an obviously out-of-order submission
// before paying for a durable round trip. The durable store remains the
// authority: every accepted step is still appended there, and stepBuffer
// is purely an optimisation, never a source of truth for ordering.
type stepBuffer struct {
	mu   sync.Mutex
	last map[string]int
}

func newStepBuffer() *stepBuffer {
	return &stepBuffer{last: make(map[string]int)}
}

// record updates the last-seen step number for episodeID. It only ever
// advances: a resubmission of an earlier step number (the durable store
// tolerates resubmitting any already-applied step, not just the tail one)
// must not regress the buffer's notion of what comes next.
func (b *stepBuffer) record(episodeID string, step model.Step) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if step.StepNumber > b.last[episodeID] {
		b.last[episodeID] = step.StepNumber
	}
}

// next returns the step number log_step must use next, and whether
// anything is buffered for episodeID at all (a cold buffer defers
// entirely to the durable store's check).
func (b *stepBuffer) next(episodeID string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, ok := b.last[episodeID]
	if !ok {
		return 0, false
	}
	return last + 1, true
}

// forget drops an episode's buffered state once it completes or is deleted.
func (b *stepBuffer) forget(episodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, episodeID)
}
