package models

import "time"

// RoomStatus is the lifecycle status of a room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomActive   RoomStatus = "active"
	RoomFinished RoomStatus = "finished"
)

// Room is a persisted competition room.
type Room struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	IsPrivate    bool       `json:"is_private"`
	JoinCode     string     `json:"join_code"`
	PasswordHash string     `json:"-"`
	MaxPlayers   int        `json:"max_players"`
	Status       RoomStatus `json:"status"`
	CreatedBy    string     `json:"created_by"`
	WinnerUserID *string    `json:"winner_user_id,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Participant is a user's seat in a room. ConnectionID is empty while the user is not connected.
type Participant struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"-"`
	JoinedAt     time.Time `json:"joined_at"`
}

// RoomRecord is the persisted state the coordinator loads on first touch of a room.
type RoomRecord struct {
	ID           string
	Capacity     int
	Status       RoomStatus
	CreatedBy    string
	Participants []Participant
}
