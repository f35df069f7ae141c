package pattern

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirupsen/logrus"

	"github.com/relaymind/epimem/pkg/memory/model"
	"github.com/relaymind/epimem/pkg/memory/reward"
	"github.com/relaymind/epimem/pkg/memory/storage/durable"
	"github.com/relaymind/epimem/pkg/shared/ids"
	"github.com/relaymind/epimem/pkg/shared/logging"
)

// Embedder is the minimal interface the pipeline needs from the semantic
// service: embed a pattern's textual signature so the clusterer can
// compare it against the existing population. Satisfied by
// pkg/memory/semantic providers.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// PipelineConfig bundles the tunables the pipeline's stages need.
type PipelineConfig struct {
	Validator     ValidatorConfig
	Clusterer     ClustererConfig
	DrainDeadline time.Duration
}

// Pipeline is the single consumer that drains the queue, runs every
// stage — extraction, validation, embedding, clustering, persistence,
// attribution — for each completed episode.
type Pipeline struct {
	queue     *Queue
	registry  *Registry
	validator *Validator
	clusterer *Clusterer
	store     durable.Store
	embedder  Embedder
	reward    *reward.Calculator
	cfg       PipelineConfig
	log       *logrus.Logger
}

// NewPipeline wires a Pipeline from its components. calculator may be nil,
// in which case newly discovered patterns never fold a learning_bonus back
// into their episode's reward.
func NewPipeline(queue *Queue, registry *Registry, store durable.Store, embedder Embedder, calculator *reward.Calculator, cfg PipelineConfig, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &Pipeline{
		queue:     queue,
		registry:  registry,
		validator: NewValidator(cfg.Validator),
		clusterer: NewClusterer(cfg.Clusterer),
		store:     store,
		embedder:  embedder,
		reward:    calculator,
		cfg:       cfg,
		log:       log,
	}
}

// Run drains the queue until ctx is cancelled, then honours the shutdown
// signal by draining remaining buffered jobs up to DrainDeadline before
// returning. Any job still undrained after the deadline remains eligible
// for re-extraction on the next startup scan (at-least-once, enforced by
// the (episode_id, pattern_id) uniqueness constraint).
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case job, ok := <-p.queue.Jobs():
			if !ok {
				return nil
			}
			p.process(ctx, job)
		case <-ctx.Done():
			return p.drain()
		}
	}
}

func (p *Pipeline) drain() error {
	drainCtx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(drainCtx)
	g.Go(func() error {
		for {
			select {
			case job, ok := <-p.queue.Jobs():
				if !ok {
					return nil
				}
				p.process(gctx, job)
				p.queue.markDrained()
			case <-gctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

// process runs a single episode through extraction, validation,
// embedding, clustering and persistence.
func (p *Pipeline) process(ctx context.Context, job Job) {
	ep := job.Episode
	fields := logging.NewFields().Component("pattern_pipeline").Operation("process").EpisodeID(ep.EpisodeID)

	candidates := p.registry.Run(ep)
	if len(candidates) == 0 {
		return
	}

	evidence := Evidence{EpisodeSucceeded: ep.Outcome != nil && ep.Outcome.Kind == model.OutcomeSuccess}
	candidates = p.validator.Filter(candidates, func(*model.Pattern) Evidence { return evidence })
	if len(candidates) == 0 {
		return
	}

	newPatterns := 0
	for _, candidate := range candidates {
		isNew, err := p.reconcileOne(ctx, ep, candidate)
		if err != nil {
			p.log.WithFields(logrus.Fields(fields.Error(err))).Warn("pattern reconciliation failed")
			continue
		}
		if isNew {
			newPatterns++
		}
	}

	if newPatterns > 0 && p.reward != nil && ep.Reward != nil {
		updated := p.reward.ApplyLearningBonus(*ep.Reward, newPatterns)
		if err := p.store.UpdateReward(ctx, ep.EpisodeID, updated); err != nil {
			p.log.WithFields(logrus.Fields(fields.Error(err))).Warn("failed to fold learning bonus into reward")
		}
	}
}

func (p *Pipeline) reconcileOne(ctx context.Context, ep *model.Episode, candidate *model.Pattern) (bool, error) {
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, signatureFor(candidate))
		if err != nil {
			// A missing embedding excludes the pattern from similarity-based
			// dedup (Reconcile/CosineSimilarity both tolerate a nil vector)
			// rather than dropping the pattern; a later re-embed pass fills
			// it in once the provider recovers.
			p.log.WithFields(logrus.Fields(logging.NewFields().Component("pattern_pipeline").Operation("reconcile").PatternID(candidate.PatternID).Error(err))).
				Warn("pattern signature embedding failed, storing with null embedding")
			candidate.Embedding = nil
		} else {
			candidate.Embedding = vec
		}
	}

	kind := candidate.Kind
	existing, err := p.store.ListPatterns(ctx, model.PatternFilter{Kind: &kind})
	if err != nil {
		return false, fmt.Errorf("list existing patterns: %w", err)
	}

	result, isNew := p.clusterer.Reconcile(candidate, existing)
	if isNew {
		result.PatternID = ids.New()
	}

	if err := p.store.UpsertPattern(ctx, result); err != nil {
		return false, fmt.Errorf("upsert pattern: %w", err)
	}

	if err := p.store.RecordAttribution(ctx, model.Attribution{EpisodeID: ep.EpisodeID, PatternID: result.PatternID}); err != nil {
		return false, err
	}
	return isNew, nil
}

func signatureFor(p *model.Pattern) string {
	switch p.Kind {
	case model.PatternToolSequence:
		return fmt.Sprintf("tool_sequence:%v", p.Tools)
	case model.PatternDecisionPoint:
		return fmt.Sprintf("decision_point:%s->%s", p.Condition, p.Action)
	case model.PatternErrorRecovery:
		return fmt.Sprintf("error_recovery:%s:%v", p.ErrorType, p.RecoverySteps)
	case model.PatternContext:
		return fmt.Sprintf("context:%s:%s:%s", p.Domain, p.Language, p.TaskType)
	default:
		return fmt.Sprintf("custom:%v", p.Payload)
	}
}
