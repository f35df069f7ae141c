package orchestrator

import (
	"context"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/model"
)

// TagDelta reports how many tags a mutation actually changed.
type TagDelta struct {
	Added   int
	Removed int
}

// AddTags normalises and unions tags into the episode's tag set, rejecting
// the call if any normalised tag fails length validation or the episode
// would exceed the per-episode tag cap.
func (o *Orchestrator) AddTags(ctx context.Context, episodeID string, rawTags []string) (TagDelta, error) {
	normalised, err := normaliseAndValidate(rawTags)
	if err != nil {
		return TagDelta{}, err
	}

	existing, err := o.durable.GetTags(ctx, episodeID)
	if err != nil {
		return TagDelta{}, err
	}

	set := make(map[string]bool, len(existing))
	for _, t := range existing {
		set[t] = true
	}
	added := 0
	for _, t := range normalised {
		if !set[t] {
			set[t] = true
			added++
		}
	}
	if len(set) > model.MaxTagsPerEpisode {
		return TagDelta{}, apperrors.Newf(apperrors.ErrorTypeValidation, "episode would exceed the %d tag cap", model.MaxTagsPerEpisode)
	}

	if err := o.durable.SetTags(ctx, episodeID, mapKeys(set)); err != nil {
		return TagDelta{}, err
	}
	o.invalidateEpisode(episodeID)
	return TagDelta{Added: added}, nil
}

// RemoveTags normalises tags and removes any matches from the episode's
// tag set. Removing a tag that was never present is not an error; it
// simply does not count toward the delta.
func (o *Orchestrator) RemoveTags(ctx context.Context, episodeID string, rawTags []string) (TagDelta, error) {
	toRemove := make(map[string]bool, len(rawTags))
	for _, t := range rawTags {
		toRemove[model.NormalizeTag(t)] = true
	}

	existing, err := o.durable.GetTags(ctx, episodeID)
	if err != nil {
		return TagDelta{}, err
	}

	kept := make([]string, 0, len(existing))
	removed := 0
	for _, t := range existing {
		if toRemove[t] {
			removed++
			continue
		}
		kept = append(kept, t)
	}

	if err := o.durable.SetTags(ctx, episodeID, kept); err != nil {
		return TagDelta{}, err
	}
	o.invalidateEpisode(episodeID)
	return TagDelta{Removed: removed}, nil
}

// SetTags replaces the episode's entire tag set. Idempotent: calling it
// twice with the same input leaves the same final set both times.
func (o *Orchestrator) SetTags(ctx context.Context, episodeID string, rawTags []string) error {
	normalised, err := normaliseAndValidate(rawTags)
	if err != nil {
		return err
	}
	if len(normalised) > model.MaxTagsPerEpisode {
		return apperrors.Newf(apperrors.ErrorTypeValidation, "episode would exceed the %d tag cap", model.MaxTagsPerEpisode)
	}
	if err := o.durable.SetTags(ctx, episodeID, normalised); err != nil {
		return err
	}
	o.invalidateEpisode(episodeID)
	return nil
}

// GetTags returns the episode's current normalised tag set.
func (o *Orchestrator) GetTags(ctx context.Context, episodeID string) ([]string, error) {
	return o.durable.GetTags(ctx, episodeID)
}

// SearchByTags returns episodes matching the given (normalised) tags,
// either requiring all of them (AND) or any of them (OR).
func (o *Orchestrator) SearchByTags(ctx context.Context, tags []string, requireAll bool) ([]*model.Episode, error) {
	normalised := model.NormalizeTags(tags)
	filter := model.EpisodeFilter{}
	if requireAll {
		filter.TagsAll = normalised
	} else {
		filter.TagsAny = normalised
	}
	return o.durable.ListEpisodes(ctx, filter)
}

func normaliseAndValidate(raw []string) ([]string, error) {
	normalised := model.NormalizeTags(raw)
	for _, t := range normalised {
		if !model.ValidTag(t) {
			return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "tag length must be between %d and %d characters", model.MinTagLength, model.MaxTagLength)
		}
	}
	return normalised, nil
}

func mapKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (o *Orchestrator) invalidateEpisode(episodeID string) {
	if o.sync != nil {
		o.sync.InvalidateEpisode(episodeID)
	}
}
