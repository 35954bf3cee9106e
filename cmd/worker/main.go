// Package main runs the record worker: applies room records to Postgres,
// the leaderboard cache and the submission archive.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codearena/backend/config"
	"github.com/codearena/backend/internal/games"
	"github.com/codearena/backend/internal/leaderboard"
	"github.com/codearena/backend/internal/rooms"
	"github.com/codearena/backend/internal/worker"
	"github.com/codearena/backend/pkg/database"
	"github.com/codearena/backend/pkg/queue"
	"github.com/codearena/backend/pkg/redis"
	"github.com/codearena/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archive worker.Archive
	if cfg.AWS.SubmissionsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			SubmissionsBucket:    cfg.AWS.SubmissionsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		archive = s3Client
	}

	board := leaderboard.NewService(pool, rdb.Client, logger)
	if err := board.Warm(ctx); err != nil {
		logger.Warn("leaderboard warm failed", zap.Error(err))
	}
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(rooms.NewRepository(pool), games.NewRepository(pool), board, archive, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
