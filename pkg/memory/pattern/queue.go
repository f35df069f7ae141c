// Package pattern implements the extraction pipeline: a bounded queue
// decoupling episode completion from analysis, a set of pluggable
// extractors, a validator, a deduplicating clusterer, and the consumer
// loop tying them together.
package pattern

import (
	"context"
	"sync/atomic"
	"time"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/model"
)

// Job is one unit of extraction work submitted on episode completion.
type Job struct {
	Episode *model.Episode
}

// QueueStats tracks submission outcomes, atomic across producers.
type QueueStats struct {
	Enqueued int64
	Deferred int64
	Drained  int64
}

// Queue is a bounded MPSC channel: many producers (the orchestrator, on
// every complete_episode) and one consumer (the pipeline's processing
// loop).
type Queue struct {
	ch                chan Job
	submissionTimeout time.Duration

	enqueued atomic.Int64
	deferred atomic.Int64
	drained  atomic.Int64
}

// NewQueue builds a Queue with the given capacity and submission timeout.
func NewQueue(capacity int, submissionTimeout time.Duration) *Queue {
	return &Queue{ch: make(chan Job, capacity), submissionTimeout: submissionTimeout}
}

// Submit enqueues job. If the queue is full, Submit blocks up to the
// configured submission timeout; on timeout it returns false (the
// orchestrator must flag the episode pattern_extraction_deferred and
// never fail the completion because of queue pressure).
func (q *Queue) Submit(ctx context.Context, job Job) bool {
	select {
	case q.ch <- job:
		q.enqueued.Add(1)
		return true
	default:
	}

	timer := time.NewTimer(q.submissionTimeout)
	defer timer.Stop()
	select {
	case q.ch <- job:
		q.enqueued.Add(1)
		return true
	case <-timer.C:
		q.deferred.Add(1)
		return false
	case <-ctx.Done():
		q.deferred.Add(1)
		return false
	}
}

// Jobs exposes the receive side for the single consumer loop.
func (q *Queue) Jobs() <-chan Job {
	return q.ch
}

// Close closes the channel; callers must stop submitting before calling
// this (Submit on a closed channel panics, matching Go channel semantics
// by design — the pipeline shutdown path calls Close only after producers
// have been told to stop).
func (q *Queue) Close() {
	close(q.ch)
}

// Stats returns the queue's current counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Enqueued: q.enqueued.Load(),
		Deferred: q.deferred.Load(),
		Drained:  q.drained.Load(),
	}
}

func (q *Queue) markDrained() {
	q.drained.Add(1)
}

// ErrQueueClosed is returned by Submit callers that need to distinguish a
// closed queue from a deferred submission; Submit itself never returns an
// error value (per contract, completion never fails on queue pressure).
var ErrQueueClosed = apperrors.New(apperrors.ErrorTypeConflict, "pattern queue is closed")
