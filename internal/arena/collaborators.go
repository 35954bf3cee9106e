package arena

import (
	"context"
	"errors"
	"time"

	"github.com/codearena/backend/internal/models"
)

var (
	// ErrRoomNotFound is returned when persistence has no such room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomDeleted is returned for events addressed to a deleted room.
	ErrRoomDeleted = errors.New("room deleted")
	// ErrClosed is returned after the dispatcher has been shut down.
	ErrClosed = errors.New("dispatcher closed")

	errActorStopped = errors.New("room actor stopped")
)

// RoomLoader reads a room's persisted state on first touch.
// It returns nil, nil when the room does not exist.
type RoomLoader interface {
	LoadRoom(ctx context.Context, roomID string) (*models.RoomRecord, error)
}

// Broadcaster delivers room events to subscribed connections.
// Implementations must not block.
type Broadcaster interface {
	Publish(roomID, event string, payload any)
	Send(connID, event string, payload any)
	// Subscribe reports false when connID is no longer connected.
	Subscribe(connID, roomID string) bool
	Unsubscribe(connID, roomID string)
	DropRoom(roomID string)
}

// ChallengeSource produces the challenge for a new round. It never fails;
// implementations substitute a fallback challenge instead.
type ChallengeSource interface {
	Generate(ctx context.Context, difficulty string) models.Challenge
}

// Recorder durably mirrors committed transitions. Calls happen off the
// room's serialization point; failures are logged, never rolled back.
type Recorder interface {
	RecordParticipantJoined(ctx context.Context, roomID, userID string, joinedAt time.Time) error
	RecordParticipantLeft(ctx context.Context, roomID, userID string) error
	RecordGameStarted(ctx context.Context, game models.Game) error
	RecordSubmission(ctx context.Context, sub models.Submission) error
	RecordOutcome(ctx context.Context, outcome models.GameOutcome) error
	RecordRoomDeleted(ctx context.Context, roomID string) error
}
