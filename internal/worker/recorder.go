package worker

import (
	"context"
	"time"

	"github.com/codearena/backend/internal/models"
	"github.com/codearena/backend/pkg/queue"
)

// ParticipantPayload is the body of participant_joined and participant_left jobs.
type ParticipantPayload struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at,omitempty"`
}

// RoomDeletedPayload is the body of room_deleted jobs.
type RoomDeletedPayload struct {
	RoomID string `json:"room_id"`
}

type enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, roomID string, payload any) error
}

// QueueRecorder persists committed room transitions by enqueueing record jobs.
// The queue preserves the order in which the dispatcher hands records over.
type QueueRecorder struct {
	q enqueuer
}

// NewQueueRecorder creates a recorder writing to q.
func NewQueueRecorder(q enqueuer) *QueueRecorder {
	return &QueueRecorder{q: q}
}

func (r *QueueRecorder) RecordParticipantJoined(ctx context.Context, roomID, userID string, joinedAt time.Time) error {
	return r.q.Enqueue(ctx, queue.JobTypeParticipantJoined, roomID, ParticipantPayload{RoomID: roomID, UserID: userID, JoinedAt: joinedAt})
}

func (r *QueueRecorder) RecordParticipantLeft(ctx context.Context, roomID, userID string) error {
	return r.q.Enqueue(ctx, queue.JobTypeParticipantLeft, roomID, ParticipantPayload{RoomID: roomID, UserID: userID})
}

func (r *QueueRecorder) RecordGameStarted(ctx context.Context, game models.Game) error {
	return r.q.Enqueue(ctx, queue.JobTypeGameStarted, game.RoomID, game)
}

func (r *QueueRecorder) RecordSubmission(ctx context.Context, sub models.Submission) error {
	return r.q.Enqueue(ctx, queue.JobTypeSubmission, sub.RoomID, sub)
}

func (r *QueueRecorder) RecordOutcome(ctx context.Context, outcome models.GameOutcome) error {
	return r.q.Enqueue(ctx, queue.JobTypeGameOutcome, outcome.RoomID, outcome)
}

func (r *QueueRecorder) RecordRoomDeleted(ctx context.Context, roomID string) error {
	return r.q.Enqueue(ctx, queue.JobTypeRoomDeleted, roomID, RoomDeletedPayload{RoomID: roomID})
}
