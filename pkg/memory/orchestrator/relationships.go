package orchestrator

import (
	"context"
	"time"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/model"
	"github.com/relaymind/epimem/pkg/shared/ids"
)

// AddRelationship creates a directed edge between two existing episodes.
// Self-edges are rejected; duplicate (from, to, type) triples fail
// Conflict, enforced by the durable store's unique constraint.
func (o *Orchestrator) AddRelationship(ctx context.Context, req AddRelationshipRequest) (string, error) {
	if err := o.validate.Struct(req); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid add_relationship request")
	}
	if req.FromEpisodeID == req.ToEpisodeID {
		return "", apperrors.NewValidationError("self-edges are not permitted")
	}
	if !model.ValidRelationshipType(req.Type) {
		return "", apperrors.Newf(apperrors.ErrorTypeValidation, "unrecognised relationship type %q", req.Type)
	}
	if _, err := o.durable.GetEpisode(ctx, req.FromEpisodeID); err != nil {
		return "", err
	}
	if _, err := o.durable.GetEpisode(ctx, req.ToEpisodeID); err != nil {
		return "", err
	}

	rel := &model.Relationship{
		RelationshipID: ids.New(),
		FromEpisodeID:  req.FromEpisodeID,
		ToEpisodeID:    req.ToEpisodeID,
		Type:           req.Type,
		Reason:         req.Reason,
		Priority:       req.Priority,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.durable.InsertRelationship(ctx, rel); err != nil {
		return "", err
	}
	return rel.RelationshipID, nil
}

// RemoveRelationship deletes a relationship by id.
func (o *Orchestrator) RemoveRelationship(ctx context.Context, relationshipID string) error {
	return o.durable.DeleteRelationship(ctx, relationshipID)
}

// QueryRelationships returns every relationship where episodeID is either
// endpoint.
func (o *Orchestrator) QueryRelationships(ctx context.Context, episodeID string) ([]*model.Relationship, error) {
	return o.durable.QueryRelationships(ctx, episodeID)
}
