package model

// Reward is the composite, finite reward score derived from an episode's
// outcome, efficiency, complexity, quality and learning value.
type Reward struct {
	Base            float64 `json:"base"`
	Efficiency      float64 `json:"efficiency"`
	ComplexityBonus float64 `json:"complexity_bonus"`
	Quality         float64 `json:"quality"`
	LearningBonus   float64 `json:"learning_bonus"`
	Composite       float64 `json:"composite"`
}
