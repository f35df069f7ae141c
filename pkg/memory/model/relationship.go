package model

import "time"

// RelationshipType enumerates the directed edge kinds between episodes.
type RelationshipType string

const (
	RelationshipParentChild RelationshipType = "ParentChild"
	RelationshipDependsOn   RelationshipType = "DependsOn"
	RelationshipFollows     RelationshipType = "Follows"
	RelationshipRelatedTo   RelationshipType = "RelatedTo"
	RelationshipBlocks      RelationshipType = "Blocks"
	RelationshipDuplicates  RelationshipType = "Duplicates"
	RelationshipReferences  RelationshipType = "References"
)

// ValidRelationshipType reports whether t is a recognised relationship kind.
func ValidRelationshipType(t RelationshipType) bool {
	switch t {
	case RelationshipParentChild, RelationshipDependsOn, RelationshipFollows,
		RelationshipRelatedTo, RelationshipBlocks, RelationshipDuplicates, RelationshipReferences:
		return true
	default:
		return false
	}
}

// Relationship is a directed edge (from_episode, to_episode, type), unique
// per (from, to, type) triple, cascading-deleted when either endpoint is
// removed.
type Relationship struct {
	RelationshipID string                 `json:"relationship_id"`
	FromEpisodeID  string                 `json:"from_episode_id"`
	ToEpisodeID    string                 `json:"to_episode_id"`
	Type           RelationshipType       `json:"type"`
	Reason         string                 `json:"reason,omitempty"`
	Priority       int                    `json:"priority,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}
