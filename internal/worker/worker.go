package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codearena/backend/internal/models"
	"github.com/codearena/backend/pkg/queue"
)

const (
	dequeueBackoff = time.Second
	jobTimeout     = 10 * time.Second
)

// RoomStore is the room persistence the processor writes to.
type RoomStore interface {
	AddParticipant(ctx context.Context, roomID, userID string, joinedAt time.Time) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	Delete(ctx context.Context, roomID string) (bool, error)
}

// GameStore is the game and ledger persistence the processor writes to.
type GameStore interface {
	Create(ctx context.Context, g models.Game) error
	AddSubmission(ctx context.Context, s models.Submission) error
	ApplyOutcome(ctx context.Context, o models.GameOutcome) (stats []models.UserStats, applied bool, err error)
}

// ScoreCache receives users' updated totals after an outcome is applied.
type ScoreCache interface {
	Update(ctx context.Context, stats []models.UserStats) error
}

// Archive removes a deleted room's archived source code.
type Archive interface {
	DeleteRoomArchive(ctx context.Context, roomID string) (int, error)
}

// JobSource is the queue the processor consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// Processor applies record jobs to Postgres, the leaderboard cache and the archive.
// A failed job goes to the dead-letter queue; it is never retried automatically.
type Processor struct {
	rooms   RoomStore
	games   GameStore
	scores  ScoreCache
	archive Archive
	queue   JobSource
	logger  *zap.Logger
}

// NewProcessor creates a record processor. scores and archive may be nil.
func NewProcessor(rooms RoomStore, games GameStore, scores ScoreCache, archive Archive, q JobSource, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{rooms: rooms, games: games, scores: scores, archive: archive, queue: q, logger: logger}
}

// Process executes one record job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeParticipantJoined:
		var payload ParticipantPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return p.rooms.AddParticipant(ctx, payload.RoomID, payload.UserID, payload.JoinedAt)

	case queue.JobTypeParticipantLeft:
		var payload ParticipantPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return p.rooms.RemoveParticipant(ctx, payload.RoomID, payload.UserID)

	case queue.JobTypeGameStarted:
		var g models.Game
		if err := job.Decode(&g); err != nil {
			return err
		}
		return p.games.Create(ctx, g)

	case queue.JobTypeSubmission:
		var s models.Submission
		if err := job.Decode(&s); err != nil {
			return err
		}
		return p.games.AddSubmission(ctx, s)

	case queue.JobTypeGameOutcome:
		var o models.GameOutcome
		if err := job.Decode(&o); err != nil {
			return err
		}
		return p.applyOutcome(ctx, o)

	case queue.JobTypeRoomDeleted:
		var payload RoomDeletedPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return p.deleteRoom(ctx, payload.RoomID)
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

func (p *Processor) applyOutcome(ctx context.Context, o models.GameOutcome) error {
	stats, applied, err := p.games.ApplyOutcome(ctx, o)
	if err != nil {
		return fmt.Errorf("apply outcome: %w", err)
	}
	if !applied {
		p.logger.Info("outcome already applied", zap.String("game_id", o.GameID))
		return nil
	}
	if p.scores != nil && len(stats) > 0 {
		// The database is the source of truth; a stale cache is rebuilt by Warm.
		if err := p.scores.Update(ctx, stats); err != nil {
			p.logger.Warn("leaderboard cache update failed", zap.String("game_id", o.GameID), zap.Error(err))
		}
	}
	p.logger.Info("game outcome applied",
		zap.String("game_id", o.GameID),
		zap.String("room_id", o.RoomID),
		zap.String("reason", string(o.Reason)),
		zap.String("winner", o.WinnerUserID),
	)
	return nil
}

func (p *Processor) deleteRoom(ctx context.Context, roomID string) error {
	if _, err := p.rooms.Delete(ctx, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if p.archive == nil {
		return nil
	}
	n, err := p.archive.DeleteRoomArchive(ctx, roomID)
	if err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	p.logger.Info("room deleted", zap.String("room_id", roomID), zap.Int("archived_objects", n))
	return nil
}

// Run consumes jobs until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("record worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("record worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *Processor) handle(ctx context.Context, job *queue.Job) {
	// A job in hand is finished even during shutdown.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()

	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	if err := p.Process(jobCtx, job); err != nil {
		p.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.String("room_id", job.RoomID),
			zap.Error(err),
		)
		if dlqErr := p.queue.DeadLetter(jobCtx, job, err); dlqErr != nil {
			p.logger.Error("dead letter failed", zap.String("job_id", job.ID), zap.Error(dlqErr))
		}
	}
}
