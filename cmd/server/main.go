// Package main runs the coding arena HTTP server with WebSocket rooms and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codearena/backend/config"
	"github.com/codearena/backend/internal/admin"
	"github.com/codearena/backend/internal/ai"
	"github.com/codearena/backend/internal/arena"
	"github.com/codearena/backend/internal/auth"
	"github.com/codearena/backend/internal/games"
	"github.com/codearena/backend/internal/leaderboard"
	"github.com/codearena/backend/internal/middleware"
	"github.com/codearena/backend/internal/realtime"
	"github.com/codearena/backend/internal/rooms"
	"github.com/codearena/backend/internal/submissions"
	"github.com/codearena/backend/internal/worker"
	"github.com/codearena/backend/pkg/database"
	"github.com/codearena/backend/pkg/queue"
	"github.com/codearena/backend/pkg/redis"
	"github.com/codearena/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.SubmissionsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			SubmissionsBucket:    cfg.AWS.SubmissionsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}
	var (
		submissionArchive submissions.Archive
		roomArchive       worker.Archive
	)
	if s3Client != nil {
		submissionArchive = s3Client
		roomArchive = s3Client
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Realtime: local fan-out plus the Redis mirror read by spectators.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(realtime.NewRegistry(), redisPubSub, logger)

	// AI
	gemini := ai.NewClient(cfg.AI, logger)
	if !gemini.Enabled() {
		logger.Warn("GEMINI_API_KEY not set, using fallback challenge and evaluation")
	}
	challenges := ai.NewChallengeGenerator(gemini, logger)
	evaluator := ai.NewEvaluator(gemini, logger)

	// Persistence
	roomRepo := rooms.NewRepository(pool)
	gameRepo := games.NewRepository(pool)
	board := leaderboard.NewService(pool, rdb.Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Coordinator
	dispatcher := arena.NewDispatcher(roomRepo, hub, challenges, worker.NewQueueRecorder(jobQueue), arena.Options{
		TickInterval:      cfg.Game.TickInterval,
		IdleEviction:      cfg.Game.IdleEviction,
		InboxSize:         cfg.Game.InboxSize,
		DefaultCapacity:   cfg.Game.DefaultCapacity,
		DefaultDuration:   cfg.Game.DefaultDurationSec,
		MaxDuration:       cfg.Game.MaxDurationSec,
		DefaultDifficulty: cfg.Game.DefaultDifficulty,
	}, logger)

	roomHandler := rooms.NewHandler(roomRepo, dispatcher, cfg.Game.DefaultCapacity, logger)
	gameHandler := games.NewHandler(gameRepo, dispatcher, logger)
	submissionHandler := submissions.NewHandler(dispatcher, evaluator, submissionArchive, gameRepo, roomRepo, logger)
	leaderboardHandler := leaderboard.NewHandler(board, logger)
	adminHandler := admin.NewHandler(jobQueue, dispatcher, logger)
	authHandler := auth.NewHandler(jwtService, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "liveRooms": dispatcher.LiveRooms(), "connections": hub.Registry().Len()})
	})

	// Public
	router.GET("/leaderboard", leaderboardHandler.Top)
	router.GET("/rooms/:id/events", realtime.ServeEvents(redisPubSub, logger))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)
		api.POST("/auth/refresh", authHandler.Refresh)
		api.GET("/leaderboard/me", leaderboardHandler.Me)

		// Rooms
		api.POST("/rooms", roomHandler.Create)
		api.GET("/rooms", roomHandler.List)
		api.POST("/rooms/join-by-code", roomHandler.JoinByCode)
		api.GET("/rooms/:id", roomHandler.Get)
		api.GET("/rooms/:id/status", roomHandler.Status)
		api.POST("/rooms/:id/join", roomHandler.Join)
		api.POST("/rooms/:id/leave", roomHandler.Leave)
		api.DELETE("/rooms/:id", roomHandler.Delete)

		// Games
		api.POST("/rooms/:id/games", gameHandler.Start)
		api.POST("/rooms/:id/games/:gameId/end", gameHandler.End)
		api.GET("/games/:id", gameHandler.Get)

		// Submissions
		api.POST("/rooms/:id/submissions", submissionHandler.Submit)
		api.GET("/submissions/:id/code", submissionHandler.Code)

		// Admin
		adminGroup := api.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
		adminGroup.GET("/dead-letters", adminHandler.ListDeadLetters)
		adminGroup.POST("/dead-letters/replay", adminHandler.Replay)
		adminGroup.GET("/stats", adminHandler.Stats)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, dispatcher, jwtService.ValidateToken, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	var bg sync.WaitGroup

	bg.Add(1)
	go func() {
		defer bg.Done()
		hub.Run(bgCtx)
	}()

	// In-process record worker; disable it when cmd/worker runs separately.
	if cfg.Worker.Enabled {
		if err := board.Warm(ctx); err != nil {
			logger.Warn("leaderboard warm failed", zap.Error(err))
		}
		processor := worker.NewProcessor(roomRepo, gameRepo, board, roomArchive, jobQueue, logger)
		bg.Add(1)
		go func() {
			defer bg.Done()
			processor.Run(bgCtx)
		}()
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// Stops every room actor and its timers, then flushes pending records to the queue.
	dispatcher.Close()
	bgCancel()
	bg.Wait()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
