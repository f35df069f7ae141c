package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/model"
)

// memStore is a minimal in-memory durable.Store reproducing the ordering,
// idempotency and cascading-delete semantics the Postgres implementation
// enforces, so orchestrator tests can exercise real invariants without a
// database.
type memStore struct {
	mu            sync.Mutex
	episodes      map[string]*model.Episode
	tags          map[string]map[string]bool
	relationships map[string]*model.Relationship
	patterns      map[string]*model.Pattern
	attributions  map[string]bool
	embeddings    map[string]*model.Embedding
}

func newMemStore() *memStore {
	return &memStore{
		episodes:      map[string]*model.Episode{},
		tags:          map[string]map[string]bool{},
		relationships: map[string]*model.Relationship{},
		patterns:      map[string]*model.Pattern{},
		attributions:  map[string]bool{},
		embeddings:    map[string]*model.Embedding{},
	}
}

func (s *memStore) InsertEpisode(ctx context.Context, e *model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.episodes[e.EpisodeID] = &cp
	s.tags[e.EpisodeID] = map[string]bool{}
	return nil
}

func (s *memStore) AppendStep(ctx context.Context, episodeID string, step model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return apperrors.NewNotFoundError("episode")
	}
	if ep.Completed() {
		return apperrors.NewConflictError("episode already completed")
	}
	expected := ep.NextStepNumber()
	for _, existing := range ep.Steps {
		if existing.StepNumber != step.StepNumber {
			continue
		}
		if existing.Action == step.Action {
			return nil
		}
		return apperrors.NewConflictError("step re-submitted with a different payload")
	}
	if step.StepNumber != expected {
		return apperrors.Newf(apperrors.ErrorTypeValidation, "out-of-order step: expected %d, got %d", expected, step.StepNumber)
	}
	ep.Steps = append(ep.Steps, step)
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) CompleteEpisode(ctx context.Context, episodeID string, outcome model.Outcome, reward model.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return apperrors.NewNotFoundError("episode")
	}
	if ep.Completed() {
		return apperrors.NewConflictError("episode already completed")
	}
	now := time.Now().UTC()
	ep.Outcome = &outcome
	ep.Reward = &reward
	ep.RewardScore = &reward.Composite
	ep.EndTime = &now
	ep.UpdatedAt = now
	return nil
}

func (s *memStore) UpdateReward(ctx context.Context, episodeID string, reward model.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return apperrors.NewNotFoundError("episode")
	}
	ep.Reward = &reward
	ep.RewardScore = &reward.Composite
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) GetEpisode(ctx context.Context, episodeID string) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return nil, apperrors.NewNotFoundError("episode")
	}
	cp := *ep
	cp.Tags = s.tagSliceLocked(episodeID)
	return &cp, nil
}

func (s *memStore) ListEpisodes(ctx context.Context, filter model.EpisodeFilter) ([]*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Episode
	for id, ep := range s.episodes {
		if !matchesFilter(ep, s.tags[id], filter) {
			continue
		}
		cp := *ep
		cp.Tags = s.tagSliceLocked(id)
		out = append(out, &cp)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(ep *model.Episode, tags map[string]bool, f model.EpisodeFilter) bool {
	if len(f.TagsAny) > 0 {
		found := false
		for _, t := range f.TagsAny {
			if tags[strings.ToLower(strings.TrimSpace(t))] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.TagsAll) > 0 {
		for _, t := range f.TagsAll {
			if !tags[strings.ToLower(strings.TrimSpace(t))] {
				return false
			}
		}
	}
	if len(f.TaskTypes) > 0 {
		found := false
		for _, tt := range f.TaskTypes {
			if tt == ep.TaskType {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	if f.CompletedOnly != nil && *f.CompletedOnly != ep.Completed() {
		return false
	}
	return true
}

func (s *memStore) tagSliceLocked(episodeID string) []string {
	set := s.tags[episodeID]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

func (s *memStore) DeleteEpisode(ctx context.Context, episodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[episodeID]; !ok {
		return apperrors.NewNotFoundError("episode")
	}
	delete(s.episodes, episodeID)
	delete(s.tags, episodeID)
	for id, r := range s.relationships {
		if r.FromEpisodeID == episodeID || r.ToEpisodeID == episodeID {
			delete(s.relationships, id)
		}
	}
	delete(s.embeddings, episodeID)
	return nil
}

func (s *memStore) StoreEpisodesBatch(ctx context.Context, episodes []*model.Episode) error {
	for _, e := range episodes {
		if err := s.InsertEpisode(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) SetTags(ctx context.Context, episodeID string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[episodeID]; !ok {
		return apperrors.NewNotFoundError("episode")
	}
	set := map[string]bool{}
	for _, t := range tags {
		set[t] = true
	}
	s.tags[episodeID] = set
	return nil
}

func (s *memStore) GetTags(ctx context.Context, episodeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[episodeID]; !ok {
		return nil, apperrors.NewNotFoundError("episode")
	}
	return s.tagSliceLocked(episodeID), nil
}

func (s *memStore) InsertRelationship(ctx context.Context, r *model.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.relationships {
		if existing.FromEpisodeID == r.FromEpisodeID && existing.ToEpisodeID == r.ToEpisodeID && existing.Type == r.Type {
			return apperrors.NewConflictError("duplicate relationship")
		}
	}
	cp := *r
	s.relationships[r.RelationshipID] = &cp
	return nil
}

func (s *memStore) DeleteRelationship(ctx context.Context, relationshipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[relationshipID]; !ok {
		return apperrors.NewNotFoundError("relationship")
	}
	delete(s.relationships, relationshipID)
	return nil
}

func (s *memStore) QueryRelationships(ctx context.Context, episodeID string) ([]*model.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Relationship
	for _, r := range s.relationships {
		if r.FromEpisodeID == episodeID || r.ToEpisodeID == episodeID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpsertPattern(ctx context.Context, p *model.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.patterns[p.PatternID] = &cp
	return nil
}

func (s *memStore) GetPattern(ctx context.Context, patternID string) (*model.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[patternID]
	if !ok {
		return nil, apperrors.NewNotFoundError("pattern")
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListPatterns(ctx context.Context, filter model.PatternFilter) ([]*model.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Pattern
	for _, p := range s.patterns {
		if filter.Kind != nil && p.Kind != *filter.Kind {
			continue
		}
		if p.Support < filter.MinSupport {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) StorePatternsBatch(ctx context.Context, patterns []*model.Pattern) error {
	for _, p := range patterns {
		if err := s.UpsertPattern(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) RecordAttribution(ctx context.Context, a model.Attribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributions[fmt.Sprintf("%s:%s", a.EpisodeID, a.PatternID)] = true
	return nil
}

func (s *memStore) ScanDeferredExtraction(ctx context.Context) ([]*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Episode
	for _, ep := range s.episodes {
		if ep.PatternExtractionDeferred {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) MarkExtractionDeferred(ctx context.Context, episodeID string, deferred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return apperrors.NewNotFoundError("episode")
	}
	ep.PatternExtractionDeferred = deferred
	return nil
}

func (s *memStore) UpsertEmbedding(ctx context.Context, e *model.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[e.EntityID] = e
	return nil
}

func (s *memStore) GetEmbedding(ctx context.Context, kind model.EntityKind, entityID string) (*model.Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.embeddings[entityID]
	if !ok {
		return nil, apperrors.NewNotFoundError("embedding")
	}
	return e, nil
}

func (s *memStore) SchemaVersion(ctx context.Context) (int, error) { return 1, nil }
func (s *memStore) Close() error                                   { return nil }
