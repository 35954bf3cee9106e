package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/models"
)

// Key is the Redis sorted set holding each user's total score.
const Key = "arena:leaderboard"

// Service serves the global leaderboard from a Redis ZSET backed by user_stats.
type Service struct {
	pool   *pgxpool.Pool
	rdb    *redis.Client
	logger *zap.Logger
}

// NewService creates a leaderboard service. rdb may be nil, in which case
// every read goes to Postgres.
func NewService(pool *pgxpool.Pool, rdb *redis.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pool: pool, rdb: rdb, logger: logger}
}

// Update writes users' absolute totals to the cache, so replays are harmless.
func (s *Service) Update(ctx context.Context, stats []models.UserStats) error {
	if s.rdb == nil || len(stats) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(stats))
	for _, st := range stats {
		members = append(members, redis.Z{Score: float64(st.TotalScore), Member: st.UserID})
	}
	return s.rdb.ZAdd(ctx, Key, members...).Err()
}

// Top returns the highest totals. Cache misses and cache errors fall back to Postgres.
func (s *Service) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if s.rdb != nil {
		results, err := s.rdb.ZRevRangeWithScores(ctx, Key, 0, int64(limit-1)).Result()
		if err == nil && len(results) > 0 {
			entries := make([]models.LeaderboardEntry, len(results))
			for i, z := range results {
				member, _ := z.Member.(string)
				entries[i] = models.LeaderboardEntry{Rank: i + 1, UserID: member, TotalScore: int(z.Score)}
			}
			return entries, nil
		}
		if err != nil {
			s.logger.Warn("leaderboard cache read failed, using database", zap.Error(err))
		}
	}
	return s.topFromDB(ctx, limit)
}

func (s *Service) topFromDB(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	const query = `SELECT user_id, total_score, games_won, games_played FROM user_stats
		ORDER BY total_score DESC, games_won DESC, user_id LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []models.LeaderboardEntry{}
	for rows.Next() {
		e := models.LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&e.UserID, &e.TotalScore, &e.GamesWon, &e.GamesPlayed); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns a user's totals; a user who never played gets zeros.
func (s *Service) Stats(ctx context.Context, userID string) (models.UserStats, error) {
	st := models.UserStats{UserID: userID}
	const query = `SELECT games_played, games_won, total_score, updated_at FROM user_stats WHERE user_id = $1`
	err := s.pool.QueryRow(ctx, query, userID).Scan(&st.GamesPlayed, &st.GamesWon, &st.TotalScore, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	return st, err
}

// Rank returns the user's 1-based position in the cache, or 0 when unranked.
func (s *Service) Rank(ctx context.Context, userID string) (int64, error) {
	if s.rdb == nil {
		return 0, nil
	}
	rank, err := s.rdb.ZRevRank(ctx, Key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rank + 1, nil
}

// Warm rebuilds the cache from Postgres when it is empty.
func (s *Service) Warm(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	n, err := s.rdb.ZCard(ctx, Key).Result()
	if err != nil {
		return fmt.Errorf("zcard: %w", err)
	}
	if n > 0 {
		return nil
	}
	rows, err := s.pool.Query(ctx, `SELECT user_id, games_played, games_won, total_score, updated_at FROM user_stats`)
	if err != nil {
		return err
	}
	stats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.UserStats, error) {
		var st models.UserStats
		err := row.Scan(&st.UserID, &st.GamesPlayed, &st.GamesWon, &st.TotalScore, &st.UpdatedAt)
		return st, err
	})
	if err != nil {
		return err
	}
	if err := s.Update(ctx, stats); err != nil {
		return err
	}
	s.logger.Info("leaderboard cache warmed", zap.Int("users", len(stats)))
	return nil
}
