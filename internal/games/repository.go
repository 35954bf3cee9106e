package games

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codearena/backend/internal/models"
)

// Repository handles games, the submission ledger and outcome application.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a games repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a started game. The insert never touches an existing row, so a
// started record arriving after the outcome cannot reopen the game.
func (r *Repository) Create(ctx context.Context, g models.Game) error {
	challenge, err := json.Marshal(g.Challenge)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	const query = `INSERT INTO games (id, room_id, status, ended_reason, difficulty, duration_seconds, challenge, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, g.ID, g.RoomID, g.Status, g.EndedReason, g.Difficulty, g.DurationSeconds, challenge, g.StartedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	_, err = r.pool.Exec(ctx, `UPDATE rooms SET status = 'active', updated_at = NOW() WHERE id = $1 AND status = 'waiting'`, g.RoomID)
	return err
}

// AddSubmission appends a ledger entry. The (game, seq) pair makes it idempotent.
func (r *Repository) AddSubmission(ctx context.Context, s models.Submission) error {
	const query = `INSERT INTO submissions (id, game_id, room_id, user_id, seq, is_correct, score, feedback, language, code_key, submitted_at, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (game_id, seq) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, s.ID, s.GameID, s.RoomID, s.UserID, s.Seq, s.IsCorrect, s.Score,
		s.Feedback, s.Language, s.CodeKey, s.SubmittedAt, s.AppliedAt)
	return err
}

// ApplyOutcome stores the ended game with its ledger, finishes the room and
// updates user totals in one transaction. applied is false when the outcome had
// already been applied; stats then is nil.
func (r *Repository) ApplyOutcome(ctx context.Context, o models.GameOutcome) (stats []models.UserStats, applied bool, err error) {
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO applied_outcomes (game_id) VALUES ($1) ON CONFLICT (game_id) DO NOTHING`, o.GameID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		var winner *string
		if o.WinnerUserID != "" {
			winner = &o.WinnerUserID
		}
		stored, err := endGame(ctx, tx, o, winner)
		if err != nil {
			return fmt.Errorf("end game: %w", err)
		}
		if stored {
			for _, s := range o.Submissions {
				if err := insertSubmission(ctx, tx, s); err != nil {
					return fmt.Errorf("ledger seq %d: %w", s.Seq, err)
				}
			}
		}
		const finishRoom = `UPDATE rooms SET status = 'finished', winner_user_id = $2, ended_at = $3, updated_at = NOW()
			WHERE id = $1`
		if _, err := tx.Exec(ctx, finishRoom, o.RoomID, winner, o.EndedAt); err != nil {
			return fmt.Errorf("finish room: %w", err)
		}

		const upsertStats = `INSERT INTO user_stats (user_id, games_played, games_won, total_score, updated_at)
			VALUES ($1, 1, $2, $3, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				games_played = user_stats.games_played + 1,
				games_won = user_stats.games_won + EXCLUDED.games_won,
				total_score = user_stats.total_score + EXCLUDED.total_score,
				updated_at = NOW()
			RETURNING user_id, games_played, games_won, total_score, updated_at`
		stats = make([]models.UserStats, 0, len(o.Participants))
		for _, userID := range o.Participants {
			won, score := 0, 0
			if userID == o.WinnerUserID {
				won, score = 1, o.WinnerScore
			}
			var s models.UserStats
			if err := tx.QueryRow(ctx, upsertStats, userID, won, score).
				Scan(&s.UserID, &s.GamesPlayed, &s.GamesWon, &s.TotalScore, &s.UpdatedAt); err != nil {
				return fmt.Errorf("update stats for %s: %w", userID, err)
			}
			stats = append(stats, s)
		}
		return nil
	})
	if err != nil || !applied {
		return nil, false, err
	}
	return stats, true, nil
}

// endGame upserts the ended game row. It reports false when the room row is
// gone, in which case there is nothing to attach the game to.
func endGame(ctx context.Context, tx pgx.Tx, o models.GameOutcome, winner *string) (bool, error) {
	g := o.Game
	if g.RoomID == "" {
		g.RoomID = o.RoomID
	}
	challenge, err := json.Marshal(g.Challenge)
	if err != nil {
		return false, fmt.Errorf("marshal challenge: %w", err)
	}
	const query = `INSERT INTO games (id, room_id, status, ended_reason, difficulty, duration_seconds, challenge,
			winner_user_id, winner_score, started_at, ended_at)
		SELECT $1::uuid, $2::uuid, 'ended', $3::varchar, $4::varchar, $5::int, $6::jsonb,
			$7::text, $8::int, $9::timestamptz, $10::timestamptz
		WHERE EXISTS (SELECT 1 FROM rooms WHERE id = $2::uuid)
		ON CONFLICT (id) DO UPDATE SET
			status = 'ended',
			ended_reason = EXCLUDED.ended_reason,
			winner_user_id = EXCLUDED.winner_user_id,
			winner_score = EXCLUDED.winner_score,
			ended_at = EXCLUDED.ended_at`
	tag, err := tx.Exec(ctx, query, o.GameID, g.RoomID, o.Reason, g.Difficulty, g.DurationSeconds, challenge,
		winner, o.WinnerScore, g.StartedAt, o.EndedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func insertSubmission(ctx context.Context, tx pgx.Tx, s models.Submission) error {
	const query = `INSERT INTO submissions (id, game_id, room_id, user_id, seq, is_correct, score, feedback, language, code_key, submitted_at, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING`
	_, err := tx.Exec(ctx, query, s.ID, s.GameID, s.RoomID, s.UserID, s.Seq, s.IsCorrect, s.Score,
		s.Feedback, s.Language, s.CodeKey, s.SubmittedAt, s.AppliedAt)
	return err
}

// GetByID returns a game, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, gameID string) (*models.Game, error) {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return nil, nil
	}
	const query = `SELECT id, room_id, status, ended_reason, difficulty, duration_seconds, challenge, winner_user_id, started_at, ended_at
		FROM games WHERE id = $1`
	var g models.Game
	var gid, roomID uuid.UUID
	var challenge []byte
	err = r.pool.QueryRow(ctx, query, id).Scan(&gid, &roomID, &g.Status, &g.EndedReason, &g.Difficulty,
		&g.DurationSeconds, &challenge, &g.WinnerUserID, &g.StartedAt, &g.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(challenge, &g.Challenge); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	g.ID = gid.String()
	g.RoomID = roomID.String()
	return &g, nil
}

// Submissions returns a game's ledger in application order.
func (r *Repository) Submissions(ctx context.Context, gameID string) ([]models.Submission, error) {
	const query = `SELECT id, game_id, room_id, user_id, seq, is_correct, score, feedback, language, code_key, submitted_at, applied_at
		FROM submissions WHERE game_id = $1 ORDER BY seq`
	rows, err := r.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// SubmissionByID returns one ledger entry, or nil.
func (r *Repository) SubmissionByID(ctx context.Context, submissionID string) (*models.Submission, error) {
	id, err := uuid.Parse(submissionID)
	if err != nil {
		return nil, nil
	}
	const query = `SELECT id, game_id, room_id, user_id, seq, is_correct, score, feedback, language, code_key, submitted_at, applied_at
		FROM submissions WHERE id = $1`
	s, err := scanSubmission(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// Detail returns a game with its ledger, or nil.
func (r *Repository) Detail(ctx context.Context, gameID string) (*models.GameDetail, error) {
	g, err := r.GetByID(ctx, gameID)
	if err != nil || g == nil {
		return nil, err
	}
	subs, err := r.Submissions(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	return &models.GameDetail{Game: *g, Submissions: subs}, nil
}

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var s models.Submission
	var id, gameID, roomID uuid.UUID
	err := row.Scan(&id, &gameID, &roomID, &s.UserID, &s.Seq, &s.IsCorrect, &s.Score, &s.Feedback,
		&s.Language, &s.CodeKey, &s.SubmittedAt, &s.AppliedAt)
	if err != nil {
		return nil, err
	}
	s.ID = id.String()
	s.GameID = gameID.String()
	s.RoomID = roomID.String()
	return &s, nil
}
