package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueRecords is the Redis list key for room record jobs, consumed in order.
	QueueRecords = "arena:records"
	// QueueDLQ holds jobs that failed. They are not retried automatically.
	QueueDLQ = "arena:records:dlq"
	// DequeueTimeout bounds each blocking pop so shutdown is noticed.
	DequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeParticipantJoined JobType = "participant_joined"
	JobTypeParticipantLeft   JobType = "participant_left"
	JobTypeGameStarted       JobType = "game_started"
	JobTypeSubmission        JobType = "submission"
	JobTypeGameOutcome       JobType = "game_outcome"
	JobTypeRoomDeleted       JobType = "room_deleted"
)

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	RoomID    string          `json:"room_id"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	Error     string          `json:"error,omitempty"`
	FailedAt  *time.Time      `json:"failed_at,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue appends a job to the records queue.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, roomID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		RoomID:    roomID,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueRecords, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued record job", zap.String("job_id", job.ID), zap.String("type", string(jobType)), zap.String("room_id", roomID))
	return nil
}

// Dequeue blocks until a job is available, DequeueTimeout passes or ctx is done.
// A nil job with nil error means nothing was available.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, DequeueTimeout, QueueRecords).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// DeadLetter parks a failed job in the DLQ with its error.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, cause error) error {
	now := time.Now().UTC()
	job.Attempt++
	job.FailedAt = &now
	if cause != nil {
		job.Error = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
	return nil
}

// DeadLetters lists up to limit dead-lettered jobs starting at offset.
func (q *Queue) DeadLetters(ctx context.Context, offset, limit int64) ([]Job, int64, error) {
	total, err := q.client.LLen(ctx, QueueDLQ).Result()
	if err != nil {
		return nil, 0, err
	}
	raws, err := q.client.LRange(ctx, QueueDLQ, offset, offset+limit-1).Result()
	if err != nil {
		return nil, 0, err
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, total, nil
}

// Replay moves up to n dead-lettered jobs back to the records queue, oldest first.
func (q *Queue) Replay(ctx context.Context, n int) (int, error) {
	moved := 0
	for moved < n {
		err := q.client.LMove(ctx, QueueDLQ, QueueRecords, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("lmove: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.Info("dead letters replayed", zap.Int("jobs", moved))
	}
	return moved, nil
}

// Depth returns the lengths of the records queue and the DLQ.
func (q *Queue) Depth(ctx context.Context) (pending, dead int64, err error) {
	pipe := q.client.Pipeline()
	p := pipe.LLen(ctx, QueueRecords)
	d := pipe.LLen(ctx, QueueDLQ)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return p.Val(), d.Val(), nil
}
