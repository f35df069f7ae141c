package orchestrator

import (
	"time"

	"github.com/relaymind/epimem/pkg/memory/model"
)

// StartEpisodeRequest is the start_episode input.
type StartEpisodeRequest struct {
	Task     string         `validate:"required"`
	Context  model.Context  `validate:"-"`
	TaskType model.TaskType `validate:"-"`
}

// LogStepRequest is the log_step input.
type LogStepRequest struct {
	EpisodeID  string                `validate:"required"`
	StepNumber int                   `validate:"required,gte=1"`
	Action     string                `validate:"required"`
	Result     model.ExecutionResult `validate:"-"`
	ToolCalls  []model.ToolCall      `validate:"-"`
	Duration   time.Duration         `validate:"-"`
}

// CompleteEpisodeRequest is the complete_episode input.
type CompleteEpisodeRequest struct {
	EpisodeID      string        `validate:"required"`
	Outcome        model.Outcome `validate:"-"`
	TaskComplexity float64       `validate:"gte=0"`
}

// AddRelationshipRequest is the add_relationship input.
type AddRelationshipRequest struct {
	FromEpisodeID string                 `validate:"required"`
	ToEpisodeID   string                 `validate:"required"`
	Type          model.RelationshipType `validate:"required"`
	Reason        string                 `validate:"-"`
	Priority      int                    `validate:"-"`
	Metadata      map[string]interface{} `validate:"-"`
}

// RetrieveContextRequest is the retrieve_context input. Limit of 0 means
// "use the configured default"; the retrieval engine enforces the [1,100]
// bound once the default is applied.
type RetrieveContextRequest struct {
	Query  string              `validate:"required"`
	Filter model.EpisodeFilter `validate:"-"`
	Limit  int                 `validate:"gte=0,lte=100"`
}
