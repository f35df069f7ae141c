// Package orchestrator exposes the engine's single in-process API: episode
// lifecycle, tags, relationships, retrieval and pattern listing. It wires
// together the durable store, the cache synchroniser, the pattern
// extraction queue and the retrieval engine, and is the only component
// host programs call directly.
package orchestrator

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/metrics"
	"github.com/relaymind/epimem/pkg/memory/model"
	"github.com/relaymind/epimem/pkg/memory/pattern"
	"github.com/relaymind/epimem/pkg/memory/retrieval"
	"github.com/relaymind/epimem/pkg/memory/reward"
	"github.com/relaymind/epimem/pkg/memory/storage/durable"
	"github.com/relaymind/epimem/pkg/memory/storage/sync"
	"github.com/relaymind/epimem/pkg/shared/ids"
	"github.com/relaymind/epimem/pkg/shared/logging"
)

// Orchestrator is the engine's public facade.
type Orchestrator struct {
	durable   durable.Store
	sync      *sync.Synchroniser
	queue     *pattern.Queue
	retrieval *retrieval.Engine
	reward    *reward.Calculator
	metrics   *metrics.Metrics
	validate  *validator.Validate
	log       *logrus.Logger

	steps *stepBuffer
}

// New builds an Orchestrator. metrics may be nil to disable instrumentation.
func New(store durable.Store, synchroniser *sync.Synchroniser, queue *pattern.Queue, retrievalEngine *retrieval.Engine, calculator *reward.Calculator, m *metrics.Metrics, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &Orchestrator{
		durable:   store,
		sync:      synchroniser,
		queue:     queue,
		retrieval: retrievalEngine,
		reward:    calculator,
		metrics:   m,
		validate:  validator.New(),
		log:       log,
		steps:     newStepBuffer(),
	}
}

// StartEpisode records a new episode and returns its id.
func (o *Orchestrator) StartEpisode(ctx context.Context, req StartEpisodeRequest) (string, error) {
	if err := o.validate.Struct(req); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid start_episode request")
	}
	if req.TaskType != "" && !model.ValidTaskType(req.TaskType) {
		return "", apperrors.Newf(apperrors.ErrorTypeValidation, "unrecognised task_type %q", req.TaskType)
	}

	now := time.Now().UTC()
	episode := &model.Episode{
		EpisodeID:       ids.New(),
		TaskDescription: req.Task,
		TaskType:        req.TaskType,
		Context:         req.Context,
		StartTime:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := o.durable.InsertEpisode(ctx, episode); err != nil {
		return "", err
	}
	o.steps.forget(episode.EpisodeID)
	if o.sync != nil {
		o.sync.PutEpisode(episode)
	}
	o.log.WithFields(logrus.Fields(logging.NewFields().Component("orchestrator").Operation("start_episode").EpisodeID(episode.EpisodeID))).Info("episode started")
	return episode.EpisodeID, nil
}

// LogStep appends a step to an in-progress episode. Step numbers must be
// strictly sequential; re-submitting any already-applied step number with
// an identical payload is idempotent, not only the most recent one.
func (o *Orchestrator) LogStep(ctx context.Context, req LogStepRequest) error {
	if err := o.validate.Struct(req); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid log_step request")
	}
	if expected, ok := o.steps.next(req.EpisodeID); ok && req.StepNumber > expected {
		// A gap is always invalid regardless of payload; short-circuit
		// before the durable round trip. Step numbers at or below expected
		// fall through to the durable store, which alone can tell an
		// idempotent re-submission from a genuine conflict.
		return apperrors.Newf(apperrors.ErrorTypeValidation, "out-of-order step: expected %d, got %d", expected, req.StepNumber)
	}

	step := model.Step{
		StepNumber: req.StepNumber,
		Action:     req.Action,
		Result:     req.Result,
		ToolCalls:  req.ToolCalls,
		Duration:   req.Duration,
		Timestamp:  time.Now().UTC(),
	}
	if err := o.durable.AppendStep(ctx, req.EpisodeID, step); err != nil {
		return err
	}
	o.steps.record(req.EpisodeID, step)
	if o.sync != nil {
		o.sync.InvalidateEpisode(req.EpisodeID)
	}
	return nil
}

// CompleteEpisode seals an episode with its outcome, computes the reward
// and enqueues it for pattern extraction. Queue backpressure never fails
// the completion: the episode is flagged pattern_extraction_deferred
// instead and picked up by the deferred-extraction scan.
func (o *Orchestrator) CompleteEpisode(ctx context.Context, req CompleteEpisodeRequest) (model.Reward, error) {
	if err := o.validate.Struct(req); err != nil {
		return model.Reward{}, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid complete_episode request")
	}

	episode, err := o.durable.GetEpisode(ctx, req.EpisodeID)
	if err != nil {
		return model.Reward{}, err
	}
	if episode.Completed() {
		return model.Reward{}, apperrors.NewConflictError("episode already completed")
	}

	end := time.Now().UTC()
	episode.EndTime = &end
	episode.Outcome = &req.Outcome
	computed := o.reward.Calculate(episode, req.TaskComplexity, 0)

	if err := o.durable.CompleteEpisode(ctx, req.EpisodeID, req.Outcome, computed); err != nil {
		return model.Reward{}, err
	}
	o.steps.forget(req.EpisodeID)
	if o.sync != nil {
		o.sync.InvalidateEpisode(req.EpisodeID)
	}

	episode.Reward = &computed
	episode.RewardScore = &computed.Composite
	deferred := !o.queue.Submit(ctx, pattern.Job{Episode: episode})
	if deferred {
		if markErr := o.durable.MarkExtractionDeferred(ctx, req.EpisodeID, true); markErr != nil {
			o.log.WithFields(logrus.Fields(logging.NewFields().Component("orchestrator").Operation("complete_episode").EpisodeID(req.EpisodeID).Error(markErr))).
				Warn("failed to flag episode pattern_extraction_deferred")
		}
		if o.metrics != nil {
			o.metrics.RecordQueueDeferred("pattern")
		}
	}

	return computed, nil
}

// GetEpisode returns a single episode by id, read-through the cache.
func (o *Orchestrator) GetEpisode(ctx context.Context, episodeID string) (*model.Episode, error) {
	if o.sync != nil {
		return o.sync.GetEpisode(ctx, episodeID)
	}
	return o.durable.GetEpisode(ctx, episodeID)
}

// ListEpisodes returns episodes matching filter.
func (o *Orchestrator) ListEpisodes(ctx context.Context, filter model.EpisodeFilter) ([]*model.Episode, error) {
	return o.durable.ListEpisodes(ctx, filter)
}

// DeleteEpisode removes an episode and, by the schema's cascading foreign
// keys, every tag, relationship and embedding referencing it.
func (o *Orchestrator) DeleteEpisode(ctx context.Context, episodeID string) error {
	if err := o.durable.DeleteEpisode(ctx, episodeID); err != nil {
		return err
	}
	o.steps.forget(episodeID)
	if o.sync != nil {
		o.sync.InvalidateEpisode(episodeID)
	}
	return nil
}

// ListPatterns returns patterns matching filter.
func (o *Orchestrator) ListPatterns(ctx context.Context, filter model.PatternFilter) ([]*model.Pattern, error) {
	return o.durable.ListPatterns(ctx, filter)
}

// RecoverDeferredExtraction re-submits every episode the durable store has
// flagged pattern_extraction_deferred, clearing the flag on episodes the
// queue accepts. Host programs call this once at startup so a queue that
// was full during a prior run does not lose pattern extraction permanently.
func (o *Orchestrator) RecoverDeferredExtraction(ctx context.Context) (int, error) {
	episodes, err := o.durable.ScanDeferredExtraction(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, episode := range episodes {
		if !o.queue.Submit(ctx, pattern.Job{Episode: episode}) {
			continue
		}
		if err := o.durable.MarkExtractionDeferred(ctx, episode.EpisodeID, false); err != nil {
			o.log.WithFields(logrus.Fields(logging.NewFields().Component("orchestrator").Operation("recover_deferred_extraction").EpisodeID(episode.EpisodeID).Error(err))).
				Warn("failed to clear pattern_extraction_deferred flag")
			continue
		}
		recovered++
	}
	o.log.WithFields(logrus.Fields(logging.NewFields().Component("orchestrator").Operation("recover_deferred_extraction").Count(recovered))).
		Info("recovered deferred pattern extraction")
	return recovered, nil
}
