package models

// Challenge is the coding problem of a round.
type Challenge struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Examples    []Example `json:"examples"`
}

// Example is one input/output pair of a challenge.
type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// Evaluation is the evaluator's verdict on submitted code.
type Evaluation struct {
	IsCorrect       bool   `json:"isCorrect"`
	Feedback        string `json:"feedback"`
	TimeComplexity  string `json:"timeComplexity"`
	SpaceComplexity string `json:"spaceComplexity"`
	Score           int    `json:"score"`
}
