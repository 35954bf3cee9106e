package models

import "time"

// Submission is one entry of a round's append-only ledger.
// Seq is the order in which the entry was applied to the round.
type Submission struct {
	ID          string    `json:"id"`
	GameID      string    `json:"game_id"`
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	Seq         int       `json:"seq"`
	IsCorrect   bool      `json:"is_correct"`
	Score       int       `json:"score"`
	Feedback    string    `json:"feedback,omitempty"`
	Language    string    `json:"language,omitempty"`
	CodeKey     string    `json:"code_key,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	AppliedAt   time.Time `json:"applied_at"`
}
