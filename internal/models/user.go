package models

import "time"

// Role represents a caller's role claim.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePlayer Role = "player"
)

// UserStats holds a user's competition totals.
type UserStats struct {
	UserID      string    `json:"user_id"`
	GamesPlayed int       `json:"games_played"`
	GamesWon    int       `json:"games_won"`
	TotalScore  int       `json:"total_score"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LeaderboardEntry is one ranked row of the global leaderboard.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	TotalScore  int    `json:"total_score"`
	GamesWon    int    `json:"games_won,omitempty"`
	GamesPlayed int    `json:"games_played,omitempty"`
}
