// Package model holds the engine's core data types: episodes, steps,
// outcomes, rewards, patterns, tags, relationships and embeddings.
// All entities are immutable once completed except for the explicitly
// controlled mutations (tags, relationships).
package model

import "time"

// TaskType classifies the kind of work an episode records.
type TaskType string

const (
	TaskTypeCodeGeneration TaskType = "CodeGeneration"
	TaskTypeDebugging      TaskType = "Debugging"
	TaskTypeRefactoring    TaskType = "Refactoring"
	TaskTypeTesting        TaskType = "Testing"
	TaskTypeDocumentation  TaskType = "Documentation"
	TaskTypeOther          TaskType = "Other"
)

// ValidTaskType reports whether t is one of the recognised task types.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeCodeGeneration, TaskTypeDebugging, TaskTypeRefactoring,
		TaskTypeTesting, TaskTypeDocumentation, TaskTypeOther:
		return true
	default:
		return false
	}
}

// Context is the free-form task context an episode carries: declared
// domain/language plus arbitrary metadata.
type Context struct {
	Domain   string                 `json:"domain,omitempty"`
	Language string                 `json:"language,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionResultKind is the outcome of a single step.
type ExecutionResultKind string

const (
	ResultSuccess        ExecutionResultKind = "Success"
	ResultPartialSuccess ExecutionResultKind = "PartialSuccess"
	ResultFailure        ExecutionResultKind = "Failure"
)

// ExecutionResult is a step's result: a kind plus a human-readable message.
type ExecutionResult struct {
	Kind    ExecutionResultKind `json:"kind"`
	Message string              `json:"message,omitempty"`
}

// ToolCall records one invocation of a host tool during a step.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result,omitempty"`
}

// Step is one recorded action within an episode. Step numbers are 1-based
// and strictly increasing within an episode.
type Step struct {
	StepNumber int             `json:"step_number"`
	Action     string          `json:"action"`
	Result     ExecutionResult `json:"result"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Episode is a recorded unit of agent work, from task start to completion.
type Episode struct {
	EpisodeID       string     `json:"episode_id"`
	TaskDescription string     `json:"task_description"`
	TaskType        TaskType   `json:"task_type"`
	Context         Context    `json:"context"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Steps           []Step     `json:"steps"`
	Outcome         *Outcome   `json:"outcome,omitempty"`
	RewardScore     *float64   `json:"reward_score,omitempty"`
	Reward          *Reward    `json:"reward,omitempty"`
	Patterns        []string   `json:"patterns,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// PatternExtractionDeferred is set when the pattern queue could not
	// accept this episode within the submission timeout; the
	// startup scan re-enqueues it.
	PatternExtractionDeferred bool `json:"pattern_extraction_deferred,omitempty"`
}

// Completed reports whether the episode has been sealed by complete_episode.
func (e *Episode) Completed() bool {
	return e.Outcome != nil
}

// NextStepNumber returns the step number the next log_step call must use.
func (e *Episode) NextStepNumber() int {
	if len(e.Steps) == 0 {
		return 1
	}
	return e.Steps[len(e.Steps)-1].StepNumber + 1
}

// HasTag reports whether the episode already carries the (normalised) tag.
func (e *Episode) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
