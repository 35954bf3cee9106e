package models

import "time"

// SessionStatus is the status of a game session (round).
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionRunning SessionStatus = "running"
	SessionEnded   SessionStatus = "ended"
)

// EndReason records why a session ended.
type EndReason string

const (
	EndNone    EndReason = "none"
	EndTimeout EndReason = "timeout"
	EndWinner  EndReason = "winner"
	EndManual  EndReason = "manual"
)

// Game is one timed round within a room.
type Game struct {
	ID              string        `json:"id"`
	RoomID          string        `json:"room_id"`
	Status          SessionStatus `json:"status"`
	EndedReason     EndReason     `json:"ended_reason"`
	Difficulty      string        `json:"difficulty"`
	DurationSeconds int           `json:"duration_seconds"`
	Challenge       Challenge     `json:"challenge"`
	WinnerUserID    *string       `json:"winner_user_id,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
}

// GameOutcome is the terminal result of a round handed to persistence.
// Game is the final row, so the outcome can be stored even when the
// game-started record never arrived.
type GameOutcome struct {
	GameID       string       `json:"game_id"`
	RoomID       string       `json:"room_id"`
	Reason       EndReason    `json:"reason"`
	WinnerUserID string       `json:"winner_user_id,omitempty"`
	WinnerScore  int          `json:"winner_score"`
	Participants []string     `json:"participants"`
	EndedAt      time.Time    `json:"ended_at"`
	Submissions  []Submission `json:"submissions"`
	Game         Game         `json:"game"`
}

// GameDetail is a game with its submission ledger, for results pages.
type GameDetail struct {
	Game
	Submissions []Submission `json:"submissions"`
}
