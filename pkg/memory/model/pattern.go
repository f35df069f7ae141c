package model

import "time"

// PatternKind discriminates the Pattern variant.
type PatternKind string

const (
	PatternToolSequence  PatternKind = "ToolSequence"
	PatternDecisionPoint PatternKind = "DecisionPoint"
	PatternErrorRecovery PatternKind = "ErrorRecovery"
	PatternContext       PatternKind = "ContextPattern"
	PatternCustom        PatternKind = "Custom"
)

// OutcomeStats tallies the disposition of episodes that reached a decision
// point, used by the DecisionPoint pattern variant.
type OutcomeStats struct {
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
}

// Effectiveness tracks how often a surfaced pattern's recommending episode
// went on to succeed.
type Effectiveness struct {
	UsageCount    int     `json:"usage_count"`
	SuccessCount  int     `json:"success_count"`
	AggregateGain float64 `json:"aggregate_gain"`
}

// Pattern is a reusable behavioural regularity mined from episodes,
// represented as a tagged variant over PatternKind. Only the fields
// relevant to Kind are populated for the variant-specific payload; the
// common fields (ID, Support, SuccessRate, Effectiveness, Embedding) apply
// to every kind.
type Pattern struct {
	PatternID string      `json:"pattern_id"`
	Kind      PatternKind `json:"kind"`

	// ToolSequence
	Tools      []string `json:"tools,omitempty"`
	AvgLatency float64  `json:"avg_latency_ms,omitempty"`

	// DecisionPoint
	Condition    string       `json:"condition,omitempty"`
	Action       string       `json:"action,omitempty"`
	OutcomeStats OutcomeStats `json:"outcome_stats,omitempty"`

	// ErrorRecovery
	ErrorType      string   `json:"error_type,omitempty"`
	RecoverySteps  []string `json:"recovery_steps,omitempty"`

	// ContextPattern
	Domain   string   `json:"domain,omitempty"`
	Language string   `json:"language,omitempty"`
	TaskType TaskType `json:"task_type,omitempty"`

	// Custom
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Common to every kind.
	Support       int            `json:"support"`
	SuccessRate   float64        `json:"success_rate"`
	Effectiveness Effectiveness  `json:"effectiveness"`
	Embedding     []float64      `json:"embedding,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Valid reports whether the pattern satisfies its core invariants
// success_rate in [0,1] and support >= 1.
func (p *Pattern) Valid() bool {
	return p.SuccessRate >= 0 && p.SuccessRate <= 1 && p.Support >= 1
}

// Attribution records a (episode_id, pattern_id) attribution — at-most-once
// per pair under retry.
type Attribution struct {
	EpisodeID string    `json:"episode_id"`
	PatternID string    `json:"pattern_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PatternAnalytics summarises the pattern store (grounded on
// vector.PatternAnalytics in the teacher pack).
type PatternAnalytics struct {
	TotalPatterns             int                `json:"total_patterns"`
	PatternsByKind            map[PatternKind]int `json:"patterns_by_kind"`
	AverageSuccessRate        float64            `json:"average_success_rate"`
	TopPerformingPatterns     []*Pattern         `json:"top_performing_patterns"`
	RecentPatterns            []*Pattern         `json:"recent_patterns"`
	GeneratedAt               time.Time          `json:"generated_at"`
}
